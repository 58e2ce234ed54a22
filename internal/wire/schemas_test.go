package wire

import "testing"

func TestValidateBodyRejectsMissingRequiredField(t *testing.T) {
	schemas, err := compileSchemas()
	if err != nil {
		t.Fatalf("compileSchemas: %v", err)
	}
	s := &Server{schemas: schemas}

	err = s.validateBody(CmdSetRating, []byte(`{"image_paths": ["a.jpg"]}`))
	if err == nil {
		t.Fatal("expected a validation error for missing rating")
	}
	var ve *ValidationError
	if !asValidationError(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
}

func TestValidateBodyAcceptsExtraFields(t *testing.T) {
	schemas, err := compileSchemas()
	if err != nil {
		t.Fatalf("compileSchemas: %v", err)
	}
	s := &Server{schemas: schemas}

	body := []byte(`{"command":"set_rating","session_id":"abc","image_paths":["a.jpg"],"rating":3}`)
	if err := s.validateBody(CmdSetRating, body); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestValidateBodyUnknownCommandPassesThrough(t *testing.T) {
	s := &Server{}
	if err := s.validateBody("no_such_command", []byte(`{}`)); err != nil {
		t.Fatalf("expected no error for an unregistered command, got %v", err)
	}
}

func asValidationError(err error, target **ValidationError) bool {
	ve, ok := err.(*ValidationError)
	if ok {
		*target = ve
	}
	return ok
}
