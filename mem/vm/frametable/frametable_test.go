package frametable

import (
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/vmpaging/mem/vm"
	"github.com/sarchlab/vmpaging/mem/vm/physmem"
	"github.com/sarchlab/vmpaging/sim/hooking"
	"go.uber.org/mock/gomock"
)

var _ = Describe("Clock", func() {
	It("should keep the hand on the next frame after a removal", func() {
		c := &clock{}
		for i := 0; i < 4; i++ {
			c.add(i)
		}

		c.hand = 2
		c.remove(0)
		Expect(c.ring).To(Equal([]int{1, 2, 3}))
		Expect(c.ring[c.hand]).To(Equal(2))

		c.remove(2)
		Expect(c.ring[c.hand]).To(Equal(3))

		c.remove(3)
		Expect(c.hand).To(Equal(0))
	})

	It("should stop after the given number of steps", func() {
		c := &clock{}
		c.add(7)
		c.add(8)

		visited := 0
		_, found := c.sweep(5, func(int) bool {
			visited++
			return false
		})

		Expect(found).To(BeFalse())
		Expect(visited).To(Equal(5))
		Expect(c.hand).To(Equal(1))
	})

	It("should panic when removing an unknown frame", func() {
		c := &clock{}
		Expect(func() { c.remove(3) }).To(Panic())
	})
})

var _ = Describe("Table", func() {
	var (
		mockCtrl *gomock.Controller
		owner    *MockOwner
		dir      *MockPageDirectory
		swapper  *MockSwapper
		pool     *physmem.Pool
		table    *Table
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		owner = NewMockOwner(mockCtrl)
		dir = NewMockPageDirectory(mockCtrl)
		swapper = NewMockSwapper(mockCtrl)
		pool = physmem.MakeBuilder().WithNumFrames(2).Build("Pool")
		table = MakeBuilder().
			WithFrameAllocator(pool).
			WithSwapper(swapper).
			Build("FrameTable")

		owner.EXPECT().PID().Return(vm.PID(1)).AnyTimes()
		owner.EXPECT().Directory().Return(dir).AnyTimes()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	fill := func() (uint64, uint64) {
		pA, err := table.Acquire(owner, vm.AllocUser, 0x1000)
		Expect(err).NotTo(HaveOccurred())

		pB, err := table.Acquire(owner, vm.AllocUser, 0x2000)
		Expect(err).NotTo(HaveOccurred())

		return pA, pB
	}

	It("should hand out free frames without eviction", func() {
		pA, pB := fill()

		Expect(pA).NotTo(Equal(pB))
		Expect(table.Len()).To(Equal(2))
		Expect(pool.NumFree()).To(BeZero())
		Expect(table.Frames()).To(Equal([]Frame{
			{VAddr: 0x1000, PAddr: pA, Owner: owner},
			{VAddr: 0x2000, PAddr: pB, Owner: owner},
		}))
	})

	It("should inspect the frames while the table is locked", func() {
		pA, pB := fill()

		var seen []Frame
		table.Inspect(func(frames []Frame) {
			Expect(table.lock.TryLock()).To(BeFalse())
			seen = frames
		})

		Expect(seen).To(Equal([]Frame{
			{VAddr: 0x1000, PAddr: pA, Owner: owner},
			{VAddr: 0x2000, PAddr: pB, Owner: owner},
		}))
		Expect(table.lock.TryLock()).To(BeTrue())
		table.lock.Unlock()
	})

	It("should round the page address down", func() {
		pAddr, err := table.Acquire(owner, vm.AllocUser, 0x1234)
		Expect(err).NotTo(HaveOccurred())

		e, found := table.Lookup(owner, 0x1000)
		Expect(found).To(BeTrue())
		Expect(e.PAddr).To(Equal(pAddr))
	})

	It("should panic when a page gets a second frame", func() {
		_, err := table.Acquire(owner, vm.AllocUser, 0x1000)
		Expect(err).NotTo(HaveOccurred())

		Expect(func() { table.Acquire(owner, vm.AllocUser, 0x1000) }).
			To(Panic())
	})

	It("should write a dirty victim to swap and reuse its frame", func() {
		pA, pB := fill()

		dir.EXPECT().IsAccessed(uint64(0x1000)).Return(false)
		owner.EXPECT().Pinned(uint64(0x1000)).Return(false)
		owner.EXPECT().BeginPageOut(uint64(0x1000)).Return(true, true)
		swapper.EXPECT().
			WritePage(pool.Frame(pA)).
			Return(vm.SwapSlot(5), nil)
		owner.EXPECT().FinishPageOut(uint64(0x1000), vm.SwapSlot(5))

		pC, err := table.Acquire(owner, vm.AllocUser, 0x3000)

		Expect(err).NotTo(HaveOccurred())
		Expect(pC).To(Equal(pA))
		Expect(table.Frames()).To(Equal([]Frame{
			{VAddr: 0x3000, PAddr: pA, Owner: owner},
			{VAddr: 0x2000, PAddr: pB, Owner: owner},
		}))
		Expect(table.Hand()).To(Equal(1))

		_, found := table.Lookup(owner, 0x1000)
		Expect(found).To(BeFalse())
		Expect(table.Stats()).To(Equal(Stats{
			Acquired:   3,
			Evicted:    1,
			WrittenOut: 1,
		}))
	})

	It("should give accessed frames a second chance", func() {
		_, pB := fill()

		dir.EXPECT().IsAccessed(uint64(0x1000)).Return(true)
		dir.EXPECT().SetAccessed(uint64(0x1000), false)
		dir.EXPECT().IsAccessed(uint64(0x2000)).Return(false)
		owner.EXPECT().Pinned(uint64(0x2000)).Return(false)
		owner.EXPECT().BeginPageOut(uint64(0x2000)).Return(false, true)
		owner.EXPECT().FinishPageOut(uint64(0x2000), vm.NoSwapSlot)

		pC, err := table.Acquire(owner, vm.AllocUser, 0x3000)

		Expect(err).NotTo(HaveOccurred())
		Expect(pC).To(Equal(pB))
		Expect(table.Hand()).To(Equal(0))
	})

	It("should skip pinned frames", func() {
		_, pB := fill()

		dir.EXPECT().IsAccessed(gomock.Any()).Return(false).AnyTimes()
		owner.EXPECT().Pinned(uint64(0x1000)).Return(true)
		owner.EXPECT().Pinned(uint64(0x2000)).Return(false)
		owner.EXPECT().BeginPageOut(uint64(0x2000)).Return(false, true)
		owner.EXPECT().FinishPageOut(uint64(0x2000), vm.NoSwapSlot)

		pC, err := table.Acquire(owner, vm.AllocUser, 0x3000)

		Expect(err).NotTo(HaveOccurred())
		Expect(pC).To(Equal(pB))
	})

	It("should skip a frame pinned after the first check", func() {
		_, pB := fill()

		dir.EXPECT().IsAccessed(gomock.Any()).Return(false).AnyTimes()
		owner.EXPECT().Pinned(gomock.Any()).Return(false).AnyTimes()
		owner.EXPECT().BeginPageOut(uint64(0x1000)).Return(false, false)
		owner.EXPECT().BeginPageOut(uint64(0x2000)).Return(false, true)
		owner.EXPECT().FinishPageOut(uint64(0x2000), vm.NoSwapSlot)

		pC, err := table.Acquire(owner, vm.AllocUser, 0x3000)

		Expect(err).NotTo(HaveOccurred())
		Expect(pC).To(Equal(pB))
	})

	It("should give up after two revolutions when all frames are pinned",
		func() {
			fill()

			dir.EXPECT().IsAccessed(gomock.Any()).Return(false).AnyTimes()
			owner.EXPECT().Pinned(gomock.Any()).Return(true).Times(4)

			_, err := table.Acquire(owner, vm.AllocUser, 0x3000)

			Expect(err).To(MatchError(vm.ErrOutOfFrames))
			Expect(table.Len()).To(Equal(2))
		})

	It("should panic on exhaustion if asked to", func() {
		fill()

		dir.EXPECT().IsAccessed(gomock.Any()).Return(false).AnyTimes()
		owner.EXPECT().Pinned(gomock.Any()).Return(true).AnyTimes()

		Expect(func() {
			table.Acquire(owner, vm.AllocUser|vm.AllocAssert, 0x3000)
		}).To(Panic())
	})

	It("should restore the victim if swap fails", func() {
		pA, pB := fill()

		dir.EXPECT().IsAccessed(uint64(0x1000)).Return(false)
		owner.EXPECT().Pinned(uint64(0x1000)).Return(false)
		owner.EXPECT().BeginPageOut(uint64(0x1000)).Return(true, true)
		swapper.EXPECT().
			WritePage(gomock.Any()).
			Return(vm.NoSwapSlot, fmt.Errorf("disk: %w", vm.ErrOutOfSwap))
		owner.EXPECT().AbortPageOut(uint64(0x1000), pA)

		_, err := table.Acquire(owner, vm.AllocUser, 0x3000)

		Expect(err).To(MatchError(vm.ErrOutOfSwap))
		Expect(table.Frames()).To(Equal([]Frame{
			{VAddr: 0x1000, PAddr: pA, Owner: owner},
			{VAddr: 0x2000, PAddr: pB, Owner: owner},
		}))
		Expect(pool.NumFree()).To(BeZero())
	})

	It("should evict in clock order", func() {
		fill()

		var evicted []uint64

		dir.EXPECT().IsAccessed(gomock.Any()).Return(false).AnyTimes()
		owner.EXPECT().Pinned(gomock.Any()).Return(false).AnyTimes()
		owner.EXPECT().BeginPageOut(gomock.Any()).Return(false, true).AnyTimes()
		owner.EXPECT().
			FinishPageOut(gomock.Any(), vm.NoSwapSlot).
			Do(func(vAddr uint64, _ vm.SwapSlot) {
				evicted = append(evicted, vAddr)
			}).
			AnyTimes()

		for _, vAddr := range []uint64{0x3000, 0x4000, 0x5000} {
			_, err := table.Acquire(owner, vm.AllocUser, vAddr)
			Expect(err).NotTo(HaveOccurred())
		}

		Expect(evicted).To(Equal([]uint64{0x1000, 0x2000, 0x3000}))
	})

	It("should release a frame and clear its mapping", func() {
		pA, _ := fill()

		dir.EXPECT().Lookup(uint64(0x1000)).Return(vm.PTE{PAddr: pA}, true)
		dir.EXPECT().Clear(uint64(0x1000))

		Expect(table.Release(owner, 0x1000)).To(BeTrue())
		Expect(table.Release(owner, 0x1000)).To(BeFalse())
		Expect(pool.NumFree()).To(Equal(uint64(1)))
		Expect(table.Len()).To(Equal(1))
	})

	It("should not clear a mapping that points elsewhere", func() {
		fill()

		dir.EXPECT().Lookup(uint64(0x2000)).Return(vm.PTE{PAddr: 0xdead000}, true)

		Expect(table.Release(owner, 0x2000)).To(BeTrue())
	})

	It("should release every frame of an owner", func() {
		other := NewMockOwner(mockCtrl)
		otherDir := NewMockPageDirectory(mockCtrl)
		other.EXPECT().PID().Return(vm.PID(2)).AnyTimes()
		other.EXPECT().Directory().Return(otherDir).AnyTimes()

		_, err := table.Acquire(owner, vm.AllocUser, 0x1000)
		Expect(err).NotTo(HaveOccurred())
		pO, err := table.Acquire(other, vm.AllocUser, 0x1000)
		Expect(err).NotTo(HaveOccurred())

		dir.EXPECT().Lookup(uint64(0x1000)).Return(vm.PTE{}, false)

		Expect(table.ReleaseOwner(owner)).To(Equal(1))
		Expect(table.Frames()).To(Equal([]Frame{
			{VAddr: 0x1000, PAddr: pO, Owner: other},
		}))
		Expect(table.Stats().Released).To(Equal(uint64(1)))
	})

	It("should report frame events to hooks", func() {
		var positions []string

		table.AcceptHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
			positions = append(positions, ctx.Pos.Name)
		}))

		pA, _ := fill()

		dir.EXPECT().IsAccessed(gomock.Any()).Return(false).AnyTimes()
		owner.EXPECT().Pinned(gomock.Any()).Return(false).AnyTimes()
		owner.EXPECT().BeginPageOut(uint64(0x1000)).Return(false, true)
		owner.EXPECT().FinishPageOut(uint64(0x1000), vm.NoSwapSlot)
		dir.EXPECT().Lookup(uint64(0x3000)).Return(vm.PTE{PAddr: pA}, true)
		dir.EXPECT().Clear(uint64(0x3000))

		_, err := table.Acquire(owner, vm.AllocUser, 0x3000)
		Expect(err).NotTo(HaveOccurred())
		table.Release(owner, 0x3000)

		Expect(positions).To(Equal([]string{
			"FrameAcquire", "FrameAcquire",
			"FrameEvict", "FrameAcquire",
			"FrameRelease",
		}))
	})
})
