//go:build linux && !tinygo

package adc

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DevMem is a Bus over mmap'd windows of /dev/mem. It serves Linux parts
// that expose the STM32 ADC block to the application processor.
type DevMem struct {
	mu   sync.RWMutex
	fd   *os.File
	wins []devWin // sorted by base
}

type devWin struct {
	base uintptr
	data []byte
}

// OpenDevMem opens the memory device (usually /dev/mem).
func OpenDevMem(fname string) (*DevMem, error) {
	f, err := os.OpenFile(fname, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("adc: could not open %q: %w", fname, err)
	}
	return &DevMem{fd: f}, nil
}

// Map makes [base, base+size) accessible. The span is widened to whole pages.
func (m *DevMem) Map(base, size uintptr) error {
	page := uintptr(os.Getpagesize())
	start := base &^ (page - 1)
	end := (base + size + page - 1) &^ (page - 1)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fd == nil {
		return fmt.Errorf("adc: devmem closed")
	}
	for _, w := range m.wins {
		if start >= w.base && end <= w.base+uintptr(len(w.data)) {
			return nil
		}
	}

	data, err := unix.Mmap(
		int(m.fd.Fd()),
		int64(start), int(end-start),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED,
	)
	if err != nil {
		return fmt.Errorf("adc: could not mmap 0x%08x+0x%x: %w", start, end-start, err)
	}
	if len(data) != int(end-start) {
		_ = unix.Munmap(data)
		return fmt.Errorf("adc: invalid mmap'd data: %d", len(data))
	}
	m.wins = append(m.wins, devWin{base: start, data: data})
	sort.Slice(m.wins, func(i, j int) bool { return m.wins[i].base < m.wins[j].base })
	return nil
}

// Close unmaps every window and closes the device.
func (m *DevMem) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var first error
	for _, w := range m.wins {
		if err := unix.Munmap(w.data); err != nil && first == nil {
			first = err
		}
	}
	m.wins = nil
	if m.fd != nil {
		if err := m.fd.Close(); err != nil && first == nil {
			first = err
		}
		m.fd = nil
	}
	return first
}

func (m *DevMem) word(addr uintptr) *uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := sort.Search(len(m.wins), func(i int) bool {
		return m.wins[i].base+uintptr(len(m.wins[i].data)) > addr
	})
	if i == len(m.wins) || addr < m.wins[i].base {
		panic(fmt.Errorf("adc: address 0x%08x is not mapped", addr))
	}
	w := m.wins[i]
	return (*uint32)(unsafe.Pointer(&w.data[addr-w.base]))
}

// Load32 implements Bus.
func (m *DevMem) Load32(addr uintptr) uint32 {
	return atomic.LoadUint32(m.word(addr))
}

// Store32 implements Bus.
func (m *DevMem) Store32(addr uintptr, v uint32) {
	atomic.StoreUint32(m.word(addr), v)
}

var _ Bus = (*DevMem)(nil)
