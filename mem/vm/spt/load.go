package spt

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/sarchlab/vmpaging/mem/vm"
	"github.com/sarchlab/vmpaging/sim/hooking"
)

type source struct {
	slot      vm.SwapSlot
	file      vm.File
	offset    int64
	readBytes uint64
}

// Load brings a non-resident page into a frame and maps it. The page stays
// pinned while it is filled. On failure the frame is released and the page
// stays non-resident. Loading a resident page does nothing.
func (t *Table) Load(e *Page) error {
	t.lock.Lock()

	for e.evicting {
		t.evicted.Wait()
	}

	switch {
	case t.dying:
		t.lock.Unlock()
		return fmt.Errorf("%s: %w", t.Name(), ErrDestroyed)
	case e.discarded:
		t.lock.Unlock()
		return fmt.Errorf("%s: page %#x: %w", t.Name(), e.vAddr, ErrDiscarded)
	case e.resident:
		t.lock.Unlock()
		return nil
	case e.loading:
		t.lock.Unlock()
		return fmt.Errorf("%s: page %#x: %w",
			t.Name(), e.vAddr, ErrLoadInProgress)
	}

	e.pins++
	e.loading = true
	t.lock.Unlock()

	err := t.load(e)

	t.lock.Lock()
	e.loading = false
	e.unpin()
	t.lock.Unlock()

	return err
}

func (t *Table) load(e *Page) error {
	pAddr, err := t.frames.Acquire(t, vm.AllocUser, e.vAddr)
	if err != nil {
		return fmt.Errorf("%s: loading page %#x: %w", t.Name(), e.vAddr, err)
	}

	t.lock.Lock()
	src := source{
		slot:      e.slot,
		file:      e.file,
		offset:    e.offset,
		readBytes: e.readBytes,
	}
	t.lock.Unlock()

	if err := t.fill(t.memory.Frame(pAddr), src); err != nil {
		t.frames.Release(t, e.vAddr)
		return fmt.Errorf("%s: loading page %#x: %w", t.Name(), e.vAddr, err)
	}

	t.lock.Lock()

	if err := t.dir.Map(e.vAddr, pAddr, e.writable); err != nil {
		t.lock.Unlock()
		t.frames.Release(t, e.vAddr)

		return fmt.Errorf("%s: loading page %#x: %w", t.Name(), e.vAddr, err)
	}

	e.pAddr = pAddr
	e.resident = true

	if src.slot.Valid() {
		e.slot = vm.NoSwapSlot
		e.anonymous = true
	}

	backing := e.backing()
	if src.slot.Valid() {
		backing = BackingSwap
	}

	t.lock.Unlock()

	if src.slot.Valid() {
		t.swap.FreeSlot(src.slot)
	}

	t.InvokeHook(hooking.HookCtx{
		Domain: t,
		Pos:    HookPosLoad,
		Item: vm.PageEvent{
			PID:   t.pid,
			VAddr: e.vAddr,
			PAddr: pAddr,
			Slot:  src.slot,
		},
		Detail: backing,
	})

	return nil
}

func (t *Table) fill(frame []byte, src source) error {
	if src.slot.Valid() {
		return t.swap.ReadPage(src.slot, frame)
	}

	if src.readBytes == 0 {
		clear(frame)
		return nil
	}

	n, err := src.file.ReadAt(frame[:src.readBytes], src.offset)
	if uint64(n) < src.readBytes {
		if err == nil || errors.Is(err, io.EOF) {
			return fmt.Errorf("read %d of %d bytes at offset %d: %w",
				n, src.readBytes, src.offset, vm.ErrShortRead)
		}

		return fmt.Errorf("read %d of %d bytes at offset %d: %w: %w",
			n, src.readBytes, src.offset, vm.ErrShortRead, err)
	}

	clear(frame[src.readBytes:])

	return nil
}

// HandleStackGrowth decides whether a fault at faultAddr, with the stack
// pointer at esp, is the stack growing. If so it creates a zero-filled stack
// page and loads it. A fault outside the stack region or more than the push
// window below esp is an invalid access.
func (t *Table) HandleStackGrowth(esp, faultAddr uint64) error {
	page := vm.PageRoundDown(faultAddr)

	if pte, mapped := t.dir.Lookup(page); mapped {
		log.Panicf("%s: stack fault at %#x but page is mapped to %#x",
			t.Name(), faultAddr, pte.PAddr)
	}

	if !t.inStackWindow(esp, faultAddr) {
		return fmt.Errorf("%s: fault at %#x with esp %#x is not stack growth: %w",
			t.Name(), faultAddr, esp, vm.ErrInvalidAccess)
	}

	e, err := t.createEntry(nil, 0, page, 0, vm.PageSize, true, true)
	if err != nil {
		return err
	}

	t.Pin(e)
	err = t.Load(e)
	t.Unpin(e)

	if err != nil {
		t.lock.Lock()
		t.remove(e)
		t.lock.Unlock()

		return err
	}

	pAddr, _ := e.PAddr()
	t.InvokeHook(hooking.HookCtx{
		Domain: t,
		Pos:    HookPosStackGrowth,
		Item: vm.PageEvent{
			PID:   t.pid,
			VAddr: page,
			PAddr: pAddr,
			Slot:  vm.NoSwapSlot,
		},
		Detail: esp,
	})

	return nil
}

func (t *Table) inStackWindow(esp, faultAddr uint64) bool {
	if faultAddr >= t.stackBase || faultAddr < t.stackBase-t.stackMax {
		return false
	}

	return faultAddr+t.pushWindow >= esp
}
