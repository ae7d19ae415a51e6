package mmap

import (
	"os"
	"syscall"
	"unsafe"
)

func mmap(file *os.File, size int, _ Hint) ([]byte, error) {
	h, errno := syscall.CreateFileMapping(syscall.Handle(file.Fd()), nil, syscall.PAGE_READONLY, 0, 0, nil)
	if h == 0 {
		return nil, os.NewSyscallError("CreateFileMapping", errno)
	}

	addr, errno := syscall.MapViewOfFile(h, syscall.FILE_MAP_READ, 0, 0, 0)
	if addr == 0 {
		_ = syscall.CloseHandle(h)
		return nil, os.NewSyscallError("MapViewOfFile", errno)
	}

	if err := syscall.CloseHandle(h); err != nil {
		_ = syscall.UnmapViewOfFile(addr)
		return nil, os.NewSyscallError("CloseHandle", err)
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

func munmap(b []byte) error {
	addr := (uintptr)(unsafe.Pointer(&b[0]))
	err := syscall.UnmapViewOfFile(addr)
	if err != nil {
		return os.NewSyscallError("UnmapViewOfFile", err)
	}
	return nil
}
