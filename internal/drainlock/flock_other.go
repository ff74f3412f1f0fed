//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package drainlock

import "os"

func tryLock(file *os.File) (bool, error) {
	return false, ErrUnsupported
}

func lockBlocking(file *os.File) error {
	return ErrUnsupported
}

func unlock(file *os.File) error {
	return nil
}
