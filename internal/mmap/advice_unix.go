//go:build unix && !linux

package mmap

import "golang.org/x/sys/unix"

// Huge page and cold hints are Linux-only; elsewhere they are dropped.
func adviceFor(pattern AccessPattern) (int, bool) {
	switch pattern {
	case AccessSequential:
		return unix.MADV_SEQUENTIAL, true
	case AccessRandom:
		return unix.MADV_RANDOM, true
	case AccessWillNeed:
		return unix.MADV_WILLNEED, true
	case AccessDontNeed:
		return unix.MADV_DONTNEED, true
	case AccessHugePage, AccessCold:
		return 0, false
	default:
		return unix.MADV_NORMAL, true
	}
}
