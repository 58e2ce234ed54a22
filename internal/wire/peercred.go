package wire

import (
	"net"

	"golang.org/x/sys/unix"
)

// peerCredentials is the subset of SO_PEERCRED useful for log context: the
// pid/uid of the process on the other end of an accepted Unix connection.
type peerCredentials struct {
	PID int32
	UID uint32
}

// readPeerCredentials reads SO_PEERCRED off conn for log context. It
// returns ok=false (never an error) if conn isn't a *net.UnixConn or the
// syscall fails, since this is diagnostic only and must never block or
// fail a connection.
func readPeerCredentials(conn net.Conn) (peerCredentials, bool) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return peerCredentials{}, false
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return peerCredentials{}, false
	}

	var cred *unix.Ucred
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		cred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctrlErr != nil || sockErr != nil || cred == nil {
		return peerCredentials{}, false
	}
	return peerCredentials{PID: cred.Pid, UID: cred.Uid}, true
}
