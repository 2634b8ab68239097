package pager

import (
	"bytes"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/vmpaging/mem/vm"
	"github.com/sarchlab/vmpaging/mem/vm/blockdev"
	"github.com/sarchlab/vmpaging/mem/vm/spt"
	"github.com/sarchlab/vmpaging/sim/hooking"
)

const codeBase = uint64(0x8048000)

func image(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i*31 + 7)
	}

	return data
}

func pagePattern(pid vm.PID, page int) []byte {
	data := make([]byte, vm.PageSize)
	for i := range data {
		data[i] = byte(int(pid)*17 + page*5 + i)
	}

	return data
}

func faultKind(err error) vm.FaultKind {
	var faultErr *vm.FaultError
	Expect(errors.As(err, &faultErr)).To(BeTrue())

	return faultErr.Kind
}

var _ = Describe("System", func() {
	var (
		system *System
	)

	BeforeEach(func() {
		system = MakeBuilder().
			WithNumFrames(4).
			WithNumSwapSlots(64).
			Build("VM")
	})

	It("should not create two processes with the same PID", func() {
		_, err := system.NewProcess(1)
		Expect(err).NotTo(HaveOccurred())

		_, err = system.NewProcess(1)
		Expect(err).To(MatchError(ErrDuplicateProcess))
	})

	It("should list processes by PID", func() {
		for _, pid := range []vm.PID{3, 1, 2} {
			_, err := system.NewProcess(pid)
			Expect(err).NotTo(HaveOccurred())
		}

		var pids []vm.PID
		for _, p := range system.Processes() {
			pids = append(pids, p.PID())
		}

		Expect(pids).To(Equal([]vm.PID{1, 2, 3}))
	})

	It("should bind the swap device from the registry", func() {
		dev := blockdev.NewMemDevice("SwapDisk", 8*vm.SectorsPerPage)
		reg := blockdev.NewRegistry()
		Expect(reg.Register(blockdev.RoleSwap, dev)).To(Succeed())

		system = MakeBuilder().WithBlockDevices(reg).Build("VM")

		Expect(system.Swap().NumSlots()).To(Equal(uint64(8)))
	})

	Context("with a loaded program", func() {
		var (
			p    *Process
			code []byte
		)

		BeforeEach(func() {
			var err error
			p, err = system.NewProcess(1)
			Expect(err).NotTo(HaveOccurred())

			code = image(int(vm.PageSize + 400))
			Expect(p.MapSegment(bytes.NewReader(code), 0, codeBase,
				uint64(len(code)), 2*vm.PageSize-uint64(len(code)), false)).
				To(Succeed())
			Expect(p.SetupStack()).To(Succeed())
		})

		It("should load pages lazily", func() {
			Expect(p.Table().Len()).To(Equal(3))
			Expect(p.Directory().Len()).To(Equal(1))

			buf := make([]byte, 600)
			Expect(p.Read(codeBase+vm.PageSize-100, buf)).To(Succeed())

			Expect(buf[:500]).To(Equal(code[vm.PageSize-100:]))
			Expect(buf[500:]).To(Equal(make([]byte, 100)))
			Expect(p.Directory().Len()).To(Equal(3))
		})

		It("should reject segments whose size wraps around", func() {
			f := bytes.NewReader(code)

			err := p.MapSegment(f, 0, 0x1000000, ^uint64(0), 4097, true)
			Expect(err).To(MatchError(spt.ErrBadDescriptor))

			err = p.MapSegment(f, 0, ^uint64(0)-vm.PageSize+1, 0,
				2*vm.PageSize, true)
			Expect(err).To(MatchError(spt.ErrBadDescriptor))
			Expect(p.Table().Len()).To(Equal(3))
		})

		It("should discard the pages of a segment that cannot be mapped", func() {
			below := codeBase - 2*vm.PageSize

			err := p.MapSegment(nil, 0, below, 0, 3*vm.PageSize, true)

			Expect(err).To(MatchError(vm.ErrDuplicatePage))
			Expect(p.Table().Len()).To(Equal(3))
			_, found := p.Table().Find(below)
			Expect(found).To(BeFalse())
			_, found = p.Table().Find(below + vm.PageSize)
			Expect(found).To(BeFalse())
		})

		It("should refuse writes to read-only pages", func() {
			err := p.Write(codeBase, []byte{1})

			Expect(err).To(MatchError(vm.ErrInvalidAccess))
			Expect(faultKind(err)).To(Equal(vm.FaultInvalidAccess))

			Expect(p.Read(codeBase, make([]byte, 1))).To(Succeed())
			err = p.Write(codeBase, []byte{1})
			Expect(faultKind(err)).To(Equal(vm.FaultInvalidAccess))
		})

		It("should grow the stack on pushes", func() {
			esp := p.StackPointer() - vm.PageSize - 8
			p.SetStackPointer(esp)

			Expect(p.Write(esp-4, []byte{1, 2, 3, 4})).To(Succeed())

			e, found := p.Table().Find(esp - 4)
			Expect(found).To(BeTrue())
			Expect(e.IsStack()).To(BeTrue())
		})

		It("should report stray accesses below the stack", func() {
			esp := p.StackPointer() - vm.PageSize - 8
			p.SetStackPointer(esp)

			err := p.HandleFault(Fault{
				Addr:         esp - 64,
				StackPointer: esp,
				Write:        true,
				NotPresent:   true,
				User:         true,
			})

			Expect(faultKind(err)).To(Equal(vm.FaultInvalidAccess))

			var faultErr *vm.FaultError
			Expect(errors.As(err, &faultErr)).To(BeTrue())
			Expect(faultErr.PID).To(Equal(vm.PID(1)))
			Expect(faultErr.Addr).To(Equal(esp - 64))
		})

		It("should use the saved stack pointer for kernel faults", func() {
			esp := p.StackPointer() - vm.PageSize - 8
			p.SetStackPointer(esp)

			Expect(p.HandleFault(Fault{
				Addr:       esp - 4,
				NotPresent: true,
			})).To(Succeed())
		})

		It("should reject kernel addresses", func() {
			err := p.HandleFault(Fault{
				Addr:         vm.PhysBase + 16,
				StackPointer: p.StackPointer(),
				NotPresent:   true,
				User:         true,
			})

			Expect(faultKind(err)).To(Equal(vm.FaultInvalidAccess))
		})

		It("should release everything on exit", func() {
			Expect(p.Read(codeBase, make([]byte, 2*vm.PageSize))).To(Succeed())

			system.Exit(p)

			_, found := system.Process(1)
			Expect(found).To(BeFalse())
			Expect(system.Memory().NumFree()).To(Equal(uint64(4)))
			Expect(system.FrameTable().Len()).To(BeZero())
			Expect(system.CheckInvariants()).To(Succeed())
		})
	})

	It("should keep every page intact under memory pressure", func() {
		const numPages = 12

		var procs []*Process
		for pid := vm.PID(1); pid <= 2; pid++ {
			p, err := system.NewProcess(pid)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.MapSegment(nil, 0, codeBase, 0,
				numPages*vm.PageSize, true)).To(Succeed())

			procs = append(procs, p)
		}

		for page := 0; page < numPages; page++ {
			for _, p := range procs {
				vAddr := codeBase + uint64(page)*vm.PageSize
				Expect(p.Write(vAddr, pagePattern(p.PID(), page))).To(Succeed())
			}
		}

		Expect(system.Swap().NumUsed()).NotTo(BeZero())
		Expect(system.CheckInvariants()).To(Succeed())

		for _, p := range procs {
			for page := 0; page < numPages; page++ {
				buf := make([]byte, vm.PageSize)
				vAddr := codeBase + uint64(page)*vm.PageSize

				Expect(p.Read(vAddr, buf)).To(Succeed())
				Expect(buf).To(Equal(pagePattern(p.PID(), page)))
			}
		}

		Expect(system.CheckInvariants()).To(Succeed())

		system.Exit(procs[0])
		system.Exit(procs[1])

		Expect(system.Swap().NumUsed()).To(BeZero())
		Expect(system.Memory().NumFree()).To(Equal(uint64(4)))
	})

	It("should report swap exhaustion as a resource fault", func() {
		system = MakeBuilder().
			WithNumFrames(2).
			WithNumSwapSlots(1).
			Build("VM")
		p, err := system.NewProcess(1)
		Expect(err).NotTo(HaveOccurred())
		Expect(p.MapSegment(nil, 0, codeBase, 0, 4*vm.PageSize, true)).
			To(Succeed())

		for page := 0; page < 3; page++ {
			vAddr := codeBase + uint64(page)*vm.PageSize
			Expect(p.Write(vAddr, []byte{1})).To(Succeed())
		}

		err = p.Write(codeBase+3*vm.PageSize, []byte{1})

		Expect(err).To(MatchError(vm.ErrOutOfSwap))
		Expect(faultKind(err)).To(Equal(vm.FaultResourceExhausted))
		Expect(system.CheckInvariants()).To(Succeed())
	})

	It("should report state the page tables do not account for", func() {
		p, err := system.NewProcess(1)
		Expect(err).NotTo(HaveOccurred())

		_, err = system.FrameTable().Acquire(p.Table(), vm.AllocUser, codeBase)
		Expect(err).NotTo(HaveOccurred())
		_, err = system.Swap().WritePage(make([]byte, vm.PageSize))
		Expect(err).NotTo(HaveOccurred())

		err = system.CheckInvariants()

		Expect(err).To(MatchError(ErrInvariant))
		Expect(err.Error()).To(ContainSubstring(
			"frame table holds 1 frames but 0 pages are resident"))
		Expect(err.Error()).To(ContainSubstring(
			"1 slots are occupied but pages refer to 0"))
	})

	It("should attach hooks to every component", func() {
		counts := make(map[string]int)
		system = MakeBuilder().
			WithNumFrames(1).
			WithHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
				counts[ctx.Pos.Name]++
			})).
			Build("VM")

		p, err := system.NewProcess(1)
		Expect(err).NotTo(HaveOccurred())
		Expect(p.MapSegment(nil, 0, codeBase, 0, 2*vm.PageSize, true)).
			To(Succeed())

		Expect(p.Write(codeBase, []byte{1})).To(Succeed())
		Expect(p.Write(codeBase+vm.PageSize, []byte{1})).To(Succeed())

		Expect(counts).To(HaveKeyWithValue("FrameAcquire", 2))
		Expect(counts).To(HaveKeyWithValue("FrameEvict", 1))
		Expect(counts).To(HaveKeyWithValue("SwapOut", 1))
		Expect(counts).To(HaveKeyWithValue("PageOut", 1))
		Expect(counts).To(HaveKeyWithValue("PageLoad", 2))
	})
})
