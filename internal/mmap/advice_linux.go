//go:build linux

package mmap

import "golang.org/x/sys/unix"

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
	case AccessHugePage:
		return unix.MADV_HUGEPAGE, true
	case AccessCold:
		return unix.MADV_COLD, true
	default:
		return unix.MADV_NORMAL, true
	}
}
