package debugger

import (
	"debug/dwarf"
	"fmt"
	"regexp"
	"sort"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/arch/x86/x86asm"

	"github.com/dwarfdbg/dwarfdbg/pkg/address"
	"github.com/dwarfdbg/dwarfdbg/pkg/config"
	"github.com/dwarfdbg/dwarfdbg/pkg/dqe"
	"github.com/dwarfdbg/dwarfdbg/pkg/target"
	"github.com/dwarfdbg/dwarfdbg/pkg/trigger"
	"github.com/dwarfdbg/dwarfdbg/pkg/typegraph"
)

// placeCacheSize bounds the PC->place/function lookup cache consulted on
// every stop and every backtrace frame; a few thousand entries comfortably
// covers a hot loop's working set without growing unbounded across a long
// session.
const placeCacheSize = 4096

type placeCacheEntry struct {
	file             string
	line             int
	funcName         string
	funcStartPC      uint64
	hasPlace, hasFunc bool
}

// Debugger is the facade spec.md §4.10 describes: it composes the process
// handle, tracer, breakpoint/watchpoint registries, unwinder and DQE
// evaluator behind the public operation surface, and owns a
// *trigger.Registry consulted before the breakpoint hook when the
// breakpoint that stopped carries an attached script (SPEC_FULL.md §4.10).
type Debugger struct {
	Config *config.Config
	Hooks  Hooks
	Trigger *trigger.Registry

	path string
	args []string

	Process     *target.ProcessHandle
	Tracees     *target.Table
	Tracer      *target.Tracer
	Breakpoints *target.Registry
	Watchpoints *target.WatchpointRegistry
	Mem         *target.PidMemory
	Addrs       *address.Table

	objects []*loadedObject

	Context *ExplorationContext

	started bool

	placeCache *lru.Cache
}

// New returns an unstarted facade. hooks may be nil, in which case
// NoopHooks is used (headless operation).
func New(cfg *config.Config, hooks Hooks) *Debugger {
	if cfg == nil {
		cfg = config.Default()
	}
	if hooks == nil {
		hooks = NoopHooks{}
	}
	cache, _ := lru.New(placeCacheSize)
	return &Debugger{
		Config:     cfg,
		Hooks:      hooks,
		Trigger:    trigger.NewRegistry(),
		Addrs:      address.NewTable(),
		placeCache: cache,
	}
}

// mainObject returns the first loaded object (the main executable).
func (d *Debugger) mainObject() *loadedObject {
	if len(d.objects) == 0 {
		return nil
	}
	return d.objects[0]
}

// StartDebugee spawns path with args, loads its DWARF information,
// installs the entry-point breakpoint, and resumes to the first stop, per
// spec.md §4.4's "start" operation and §4.10's table entry.
func (d *Debugger) StartDebugee(path string, args []string) error {
	if d.started {
		return ErrAlreadyRun{}
	}
	obj, err := d.loadObject(path)
	if err != nil {
		return err
	}
	d.objects = []*loadedObject{obj}
	d.path, d.args = path, args

	handle := target.NewSpawnHandle(path, args)
	installed, err := handle.Install()
	if err != nil {
		return fmt.Errorf("debugger: installing process: %w", err)
	}
	d.Process = installed

	d.Tracees = target.NewTable()
	if _, err := d.Tracees.Add(installed.Pid); err != nil {
		return err
	}
	d.Mem = &target.PidMemory{Pid: installed.Pid}
	d.Breakpoints = target.NewRegistry(d.Mem)
	d.Watchpoints = target.NewWatchpointRegistry(d.Mem, d.Breakpoints)
	d.Tracer = target.NewTracer(d.Tracees, d.Breakpoints, d.Watchpoints)
	d.Context = newExplorationContext(1)

	base, err := staticBaseFromMaps(installed.Pid, path)
	if err != nil {
		return err
	}
	obj.StaticBase = base
	if err := d.refreshMappings(); err != nil {
		return err
	}

	entry := obj.Entry + obj.StaticBase
	if _, err := d.Breakpoints.InstallEntryPoint(entry); err != nil {
		return fmt.Errorf("debugger: installing entry-point breakpoint: %w", err)
	}

	d.started = true
	if err := d.Hooks.OnProcessInstall(installed.Pid, path); err != nil {
		return ErrHook{Inner: err}
	}

	// Resume to the entry-point trap, per spec.md §4.4's start sequence.
	reason, err := d.Tracer.Step(installed.Pid)
	if err != nil {
		return err
	}
	return d.dispatchStop(reason)
}

// AttachDebugee attaches to an already-running process, per spec.md §3's
// "Process handle" (IsExternal mode).
func (d *Debugger) AttachDebugee(pid int, objectPath string) error {
	if d.started {
		return ErrAlreadyRun{}
	}
	obj, err := d.loadObject(objectPath)
	if err != nil {
		return err
	}
	d.objects = []*loadedObject{obj}
	d.path = objectPath

	handle := target.NewAttachHandle(pid)
	installed, err := handle.Install()
	if err != nil {
		return fmt.Errorf("debugger: attaching to pid %d: %w", pid, err)
	}
	d.Process = installed
	d.Tracees = target.NewTable()
	if _, err := d.Tracees.Add(pid); err != nil {
		return err
	}
	d.Mem = &target.PidMemory{Pid: pid}
	d.Breakpoints = target.NewRegistry(d.Mem)
	d.Watchpoints = target.NewWatchpointRegistry(d.Mem, d.Breakpoints)
	d.Tracer = target.NewTracer(d.Tracees, d.Breakpoints, d.Watchpoints)
	d.Context = newExplorationContext(1)

	base, err := staticBaseFromMaps(pid, objectPath)
	if err != nil {
		return err
	}
	obj.StaticBase = base
	if err := d.refreshMappings(); err != nil {
		return err
	}

	d.started = true
	return d.Hooks.OnProcessInstall(pid, objectPath)
}

// refreshMappings re-reads /proc/<pid>/maps after a linker rendezvous hit,
// registering any newly loaded shared objects in Addrs, per spec.md §4.3.
func (d *Debugger) refreshMappings() error {
	if d.Process == nil {
		return nil
	}
	mappings, err := mappingsFromMaps(d.Process.Pid)
	if err != nil {
		return err
	}
	d.Addrs.Set(mappings)
	if d.placeCache != nil {
		d.placeCache.Purge()
	}
	return nil
}

// dispatchStop classifies a StopReason into the matching hook call, per
// spec.md §4.10's hook interface; the tracer loop in Continue/Step drives
// this after every observed stop.
func (d *Debugger) dispatchStop(reason target.StopReason) error {
	d.Context.invalidate()

	switch reason.Kind {
	case target.ReasonDebugeeExit:
		return d.fireHook(d.Hooks.OnExit(reason.ExitCode))

	case target.ReasonSignalStop:
		return d.fireHook(d.Hooks.OnSignal(reason.Signal))

	case target.ReasonBreakpoint:
		bp, ok := d.Breakpoints.ByAddr(reason.PC)
		if ok && bp.TriggerScript != "" {
			quiet, err := d.Trigger.Fire(trigger.Event{
				Number: bp.Number, PC: reason.PC, ThreadNum: d.threadNumberFor(reason.Tid),
				FuncName: bp.FuncName, File: bp.File, Line: bp.Line,
			})
			if err != nil {
				return ErrHook{Inner: err}
			}
			if quiet {
				return nil
			}
		}
		place, funcName := d.placeAndFuncAt(reason.PC)
		num := 0
		if ok {
			num = bp.Number
		}
		return d.fireHook(d.Hooks.OnBreakpoint(reason.PC, num, place, funcName, d.threadNumberFor(reason.Tid)))

	case target.ReasonWatchpoint:
		wp, ok := d.Watchpoints.BySlot(reason.WatchSlot)
		if !ok {
			return nil
		}
		place, _ := d.placeAndFuncAt(reason.PC)
		return d.fireHook(d.Hooks.OnWatchpoint(reason.PC, wp.Number, place, wp.Condition, wp.SourceDQE, wp.OldValue, wp.NewValue, len(reason.WatchEnd) > 0))

	default:
		return nil
	}
}

func (d *Debugger) fireHook(err error) error {
	if err != nil {
		return ErrHook{Inner: err}
	}
	return nil
}

func (d *Debugger) threadNumberFor(tid int) int {
	if tr, ok := d.Tracees.Get(tid); ok {
		return tr.Number
	}
	return 0
}

func (d *Debugger) placeAndFuncAt(pc uint64) (*Place, string) {
	obj := d.mainObject()
	if obj == nil || obj.Image == nil {
		return nil, ""
	}

	if d.placeCache != nil {
		if cached, ok := d.placeCache.Get(pc); ok {
			e := cached.(placeCacheEntry)
			var place *Place
			if e.hasPlace {
				place = &Place{File: e.file, Line: e.line}
			}
			return place, e.funcName
		}
	}

	global := pc - obj.StaticBase
	var place *Place
	var entry placeCacheEntry
	if u, ok := obj.Image.UnitForPC(global); ok {
		if p, ok := u.PlaceNearestAtOrBefore(global); ok {
			place = &Place{File: p.File, Line: p.Line}
			entry.hasPlace, entry.file, entry.line = true, p.File, p.Line
		}
	}
	funcName := ""
	if fn, ok := obj.Image.FunctionForPC(global); ok {
		funcName = fn.QualifiedName()
		entry.hasFunc, entry.funcName, entry.funcStartPC = true, funcName, fn.Entry+obj.StaticBase
	}
	if d.placeCache != nil {
		d.placeCache.Add(pc, entry)
	}
	return place, funcName
}

// ContinueDebugee resumes every tracee and blocks until the next stop, per
// spec.md §4.4's "continue" operation.
func (d *Debugger) ContinueDebugee() error {
	if !d.started {
		return ErrProcessNotStarted{}
	}
	for _, tr := range d.Tracees.List() {
		reason, err := d.Tracer.Step(tr.Tid)
		if err != nil {
			return err
		}
		if err := d.dispatchStop(reason); err != nil {
			return err
		}
		if reason.Kind == target.ReasonBreakpoint && d.Breakpoints.IsLinkerMapAddr(reason.PC) {
			if err := d.refreshMappings(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Pause stops every tracee, per spec.md §4.4's "pause" operation (no
// timeout; completes once every tracee is observed stopped).
func (d *Debugger) Pause() error {
	if !d.started {
		return ErrProcessNotStarted{}
	}
	var tids []int
	for _, tr := range d.Tracees.List() {
		tids = append(tids, tr.Tid)
	}
	if err := d.Tracer.RequestPause(tids); err != nil {
		return err
	}
	for _, tid := range tids {
		reason, err := d.Tracer.Step(tid)
		if err != nil {
			return err
		}
		if err := d.dispatchStop(reason); err != nil {
			return err
		}
	}
	return nil
}

// Restart kills the current tracee and re-installs a fresh one with
// preserved breakpoint specifications, per spec.md §4.4's "restart"
// operation. Non-scoped watchpoints are kept pending re-enable;
// scoped ones are dropped, per spec.md §4.6's restart policy.
func (d *Debugger) Restart() error {
	if !d.started {
		return ErrProcessNotStarted{}
	}
	if d.Process != nil && !d.Process.IsExternal {
		_ = target.Kill(d.Process.Pid)
		_ = d.Process.Close()
	}

	var specs []target.Spec
	for _, bp := range d.Breakpoints.All() {
		specs = append(specs, target.Spec{Addr: bp.Addr, HasAddr: true})
	}
	toReenable := d.Watchpoints.ClearLocalDisableGlobal()

	d.started = false
	if err := d.StartDebugee(d.path, d.args); err != nil {
		return err
	}
	for _, s := range specs {
		if _, err := d.Breakpoints.Install(s.Addr, target.KindUser); err != nil {
			if _, dup := err.(target.ErrBreakpointAlreadyExists); !dup {
				return err
			}
		}
	}
	for _, wp := range toReenable {
		if _, err := d.Watchpoints.EnableAddress([]int{d.Process.Pid}, wp.Address, wp.Size, wp.Kind, wp.Condition); err != nil {
			return err
		}
	}
	return nil
}

// --- stepping -------------------------------------------------------------

func (d *Debugger) currentTid() (int, error) {
	if !d.started {
		return 0, ErrProcessNotStarted{}
	}
	tr, ok := d.Tracees.ByNumber(d.Context.ThreadNum)
	if !ok {
		return 0, ErrThreadNotFound{Number: d.Context.ThreadNum}
	}
	return tr.Tid, nil
}

func (d *Debugger) stepper(tid int) *target.Stepper {
	return &target.Stepper{
		Tid: tid, Tracer: d.Tracer, Breakpoints: d.Breakpoints,
		Unwinder: d.unwinder(), Mem: d.Mem, Lookup: d.placeLookup(),
	}
}

// StepSingleInstruction steps one machine instruction, per spec.md §4.9.
func (d *Debugger) StepSingleInstruction() error {
	tid, err := d.currentTid()
	if err != nil {
		return err
	}
	result, err := d.stepper(tid).SingleInstruction()
	if err != nil {
		return err
	}
	return d.handleStepResult(tid, result)
}

// StepOver implements spec.md §4.9's "Step over": it plants a temporary
// breakpoint at the next statement after the current line range and
// continues, so a CALL in the line runs to completion rather than being
// descended into. The current instruction is not decoded.
func (d *Debugger) StepOver() error {
	tid, err := d.currentTid()
	if err != nil {
		return err
	}
	nextAddr, leaves, err := d.nextStatementAddr(tid)
	if err != nil {
		return err
	}
	result, err := d.stepper(tid).StepOver(nextAddr, leaves)
	if err != nil {
		return err
	}
	return d.handleStepResult(tid, result)
}

// StepInto implements spec.md §4.9's "Step into".
func (d *Debugger) StepInto() error {
	tid, err := d.currentTid()
	if err != nil {
		return err
	}
	regs, err := target.GetRegs(tid)
	if err != nil {
		return err
	}
	nextAddr, _, err := d.nextStatementAddr(tid)
	if err != nil {
		return err
	}
	var calleeEntry uint64
	haveCallee := false
	if calleeAddr, ok := d.computeCallTarget(tid, regs.Rip); ok {
		calleeEntry = calleeAddr
		haveCallee = true
	}
	result, err := d.stepper(tid).StepInto(calleeEntry, haveCallee, nextAddr)
	if err != nil {
		return err
	}
	return d.handleStepResult(tid, result)
}

// StepOut implements spec.md §4.9's "Step out".
func (d *Debugger) StepOut() error {
	tid, err := d.currentTid()
	if err != nil {
		return err
	}
	result, err := d.stepper(tid).StepOut()
	if err != nil {
		return err
	}
	return d.handleStepResult(tid, result)
}

func (d *Debugger) handleStepResult(tid int, result target.StepResult) error {
	d.Context.invalidate()
	switch result.Kind {
	case target.StepSignalInterrupt:
		return d.fireHook(d.Hooks.OnSignal(result.Signal))
	case target.StepWatchpointInterrupt:
		return nil
	default:
		regs, err := target.GetRegs(tid)
		if err != nil {
			return err
		}
		place, fn := d.placeAndFuncAt(regs.Rip)
		return d.fireHook(d.Hooks.OnStep(regs.Rip, place, fn, d.threadNumberFor(tid)))
	}
}

// nextStatementAddr finds the next statement row after the current PC
// within the same function, reporting whether that search fell off the end
// of the function (meaning the caller should step out instead).
func (d *Debugger) nextStatementAddr(tid int) (addr uint64, leavesFunction bool, err error) {
	regs, err := target.GetRegs(tid)
	if err != nil {
		return 0, false, err
	}
	obj := d.mainObject()
	if obj == nil || obj.Image == nil {
		return 0, false, ErrNoSuitablePlace{What: "no loaded image"}
	}
	global := regs.Rip - obj.StaticBase
	u, ok := obj.Image.UnitForPC(global)
	if !ok {
		return 0, false, ErrNoSuitablePlace{What: "no compilation unit for current pc"}
	}
	cur, ok := u.PlaceExactAt(global)
	if !ok {
		cur, ok = u.PlaceNearestAtOrBefore(global)
		if !ok {
			return 0, false, ErrNoSuitablePlace{What: "no line entry at current pc"}
		}
	}
	next, ok := u.LineMatrix().NextStatement(cur.CUIndex)
	if !ok {
		return 0, true, nil
	}
	fn, ok := obj.Image.FunctionForPC(global)
	if ok && next.Address >= fn.End {
		return 0, true, nil
	}
	return next.Address + obj.StaticBase, false, nil
}

// computeCallTarget decodes the CALL instruction at addr and, for a direct
// relative call, resolves its absolute target.
func (d *Debugger) computeCallTarget(tid int, addr uint64) (uint64, bool) {
	buf := make([]byte, 16)
	if _, err := d.Mem.ReadMemory(buf, addr); err != nil {
		return 0, false
	}
	inst, err := x86asm.Decode(buf, 64)
	if err != nil || (inst.Op != x86asm.CALL && inst.Op != x86asm.CALLF) {
		return 0, false
	}
	rel, ok := inst.Args[0].(x86asm.Rel)
	if !ok {
		return 0, false
	}
	return addr + uint64(inst.Len) + uint64(int64(rel)), true
}

// --- focus -----------------------------------------------------------------

// SetThreadFocus updates the exploration context's focused thread, per
// spec.md §4.10.
func (d *Debugger) SetThreadFocus(threadNum int) error {
	if !d.started {
		return ErrProcessNotStarted{}
	}
	if _, ok := d.Tracees.ByNumber(threadNum); !ok {
		return ErrThreadNotFound{Number: threadNum}
	}
	d.Context.ThreadNum = threadNum
	d.Context.FrameNum = 0
	d.Context.invalidate()
	return nil
}

// SetFrameFocus updates the exploration context's focused frame index,
// unwinding the current thread's backtrace on every call to validate the
// index, per spec.md §4.10.
func (d *Debugger) SetFrameFocus(frameIdx int) error {
	frames, err := d.Backtrace(d.Context.ThreadNum)
	if err != nil {
		return err
	}
	if frameIdx < 0 || frameIdx >= len(frames) {
		return ErrFrameNotFound{Index: frameIdx}
	}
	d.Context.FrameNum = frameIdx
	return nil
}

// --- backtrace / unwinder wiring -------------------------------------------

func (d *Debugger) unwinder() *target.Unwinder {
	obj := d.mainObject()
	var fdes = obj.FDEs
	return target.NewUnwinder(fdes, d.Mem)
}

type placeLookupImpl struct{ d *Debugger }

func (p placeLookupImpl) LookupPlace(pc uint64) (file string, line int, funcName string, funcStartPC uint64, ok bool) {
	obj := p.d.mainObject()
	if obj == nil || obj.Image == nil {
		return "", 0, "", 0, false
	}

	if p.d.placeCache != nil {
		if cached, hit := p.d.placeCache.Get(pc); hit {
			e := cached.(placeCacheEntry)
			if !e.hasPlace && !e.hasFunc {
				return "", 0, "", 0, false
			}
			return e.file, e.line, e.funcName, e.funcStartPC, true
		}
	}

	global := pc - obj.StaticBase
	u, uok := obj.Image.UnitForPC(global)
	if !uok {
		return "", 0, "", 0, false
	}
	place, pok := u.PlaceNearestAtOrBefore(global)
	fn, fok := obj.Image.FunctionForPC(global)
	if !pok && !fok {
		return "", 0, "", 0, false
	}
	fnStart := uint64(0)
	name := ""
	if fok {
		fnStart = fn.Entry + obj.StaticBase
		name = fn.QualifiedName()
	}
	if p.d.placeCache != nil {
		p.d.placeCache.Add(pc, placeCacheEntry{
			hasPlace: pok, file: place.File, line: place.Line,
			hasFunc: fok, funcName: name, funcStartPC: fnStart,
		})
	}
	if pok {
		return place.File, place.Line, name, fnStart, true
	}
	return "", 0, name, fnStart, true
}

func (d *Debugger) placeLookup() target.PlaceLookup { return placeLookupImpl{d: d} }

// Backtrace unwinds threadNum's call stack, per spec.md §4.10's "backtrace"
// operation, caching the result in the exploration context when threadNum
// is the currently focused thread.
func (d *Debugger) Backtrace(threadNum int) ([]target.FrameInfo, error) {
	if !d.started {
		return nil, ErrProcessNotStarted{}
	}
	tr, ok := d.Tracees.ByNumber(threadNum)
	if !ok {
		return nil, ErrThreadNotFound{Number: threadNum}
	}
	regs, err := target.GetRegs(tr.Tid)
	if err != nil {
		return nil, err
	}
	dwarfRegs := target.ToDwarfRegisters(regs, 0)
	frames, err := d.unwinder().Unwind(dwarfRegs, d.placeLookup(), 0)
	if err != nil && len(frames) == 0 {
		return nil, err
	}
	if threadNum == d.Context.ThreadNum {
		d.Context.framesCache = frames
	}
	return frames, nil
}

// --- breakpoints -------------------------------------------------------------

// BreakpointView mirrors spec.md §6's BreakpointView boundary type.
type BreakpointView struct {
	Number int
	Addr   uint64
	Place  *Place
}

type breakpointResolverImpl struct{ d *Debugger }

func (r breakpointResolverImpl) Resolve(spec target.Spec) ([]target.ResolvedPlace, error) {
	obj := r.d.mainObject()
	if obj == nil || obj.Image == nil {
		return nil, ErrNoSuitablePlace{What: "no loaded image"}
	}
	if spec.HasAddr {
		return []target.ResolvedPlace{{Addr: spec.Addr}}, nil
	}
	if spec.FuncName != "" {
		var out []target.ResolvedPlace
		for _, u := range obj.Image.Units() {
			fns, err := u.FunctionsBySuffix(spec.FuncName)
			if err != nil {
				return nil, err
			}
			for _, fn := range fns {
				out = append(out, target.ResolvedPlace{
					Addr: fn.Entry + obj.StaticBase, FuncName: fn.QualifiedName(),
					File: fn.DeclFile, Line: fn.DeclLine,
				})
			}
		}
		return out, nil
	}
	if spec.File != "" {
		for _, u := range obj.Image.Units() {
			for _, p := range u.LineMatrix() {
				if p.File == spec.File && p.Line == spec.Line && p.IsStmt {
					fn, _ := obj.Image.FunctionForPC(p.Address)
					fname := ""
					if fn != nil {
						fname = fn.QualifiedName()
					}
					return []target.ResolvedPlace{{Addr: p.Address + obj.StaticBase, FuncName: fname, File: p.File, Line: p.Line}}, nil
				}
			}
		}
		return nil, nil
	}
	return nil, ErrNoSuitablePlace{What: "empty specification"}
}

// SetBreakpoint resolves spec and installs software breakpoints for every
// match, per spec.md §4.10. Deferred (unresolved) specifications return an
// empty view list, matching a shared-library function not yet loaded.
func (d *Debugger) SetBreakpoint(spec target.Spec) ([]BreakpointView, error) {
	if !d.started {
		return nil, ErrProcessNotStarted{}
	}
	places, err := breakpointResolverImpl{d: d}.Resolve(spec)
	if err != nil {
		return nil, err
	}
	if len(places) == 0 {
		d.Breakpoints.AddUninit(spec, target.KindUser)
		return nil, nil
	}
	var views []BreakpointView
	for _, p := range places {
		bp, err := d.Breakpoints.Install(p.Addr, target.KindUser)
		if err != nil {
			return views, err
		}
		bp.FuncName, bp.File, bp.Line = p.FuncName, p.File, p.Line
		var place *Place
		if p.File != "" {
			place = &Place{File: p.File, Line: p.Line}
		}
		views = append(views, BreakpointView{Number: bp.Number, Addr: bp.Addr, Place: place})
	}
	return views, nil
}

// RemoveBreakpoint removes a breakpoint by its stable number, per spec.md
// §4.10.
func (d *Debugger) RemoveBreakpoint(number int) (BreakpointView, error) {
	bp, ok := d.Breakpoints.ByNumber(number)
	if !ok {
		return BreakpointView{}, target.ErrBreakpointNotFound{Number: number}
	}
	view := BreakpointView{Number: bp.Number, Addr: bp.Addr}
	if bp.File != "" {
		view.Place = &Place{File: bp.File, Line: bp.Line}
	}
	return view, d.Breakpoints.Remove(number)
}

// AttachTrigger attaches a previously registered starlark script to a
// breakpoint number, the "trigger subsystem" mechanism SPEC_FULL.md §4.5
// adds on top of the breakpoint registry.
func (d *Debugger) AttachTrigger(breakpointNumber int, scriptName string) error {
	bp, ok := d.Breakpoints.ByNumber(breakpointNumber)
	if !ok {
		return target.ErrBreakpointNotFound{Number: breakpointNumber}
	}
	if err := d.Trigger.Attach(breakpointNumber, scriptName); err != nil {
		return err
	}
	bp.TriggerScript = scriptName
	return nil
}

// --- watchpoints -------------------------------------------------------------

// WatchpointView mirrors spec.md §6's WatchpointView boundary type.
type WatchpointView struct {
	Number    int
	Address   uint64
	Condition string
	SourceDQE string
	Size      int
}

func (d *Debugger) allTids() []int {
	var tids []int
	for _, tr := range d.Tracees.List() {
		tids = append(tids, tr.Tid)
	}
	return tids
}

// SetWatchpointOnMemory installs a raw address+size watchpoint, per
// spec.md §4.10.
func (d *Debugger) SetWatchpointOnMemory(addr uint64, size int, kind target.WatchKind, condition string) (WatchpointView, error) {
	if !d.started {
		return WatchpointView{}, ErrProcessNotStarted{}
	}
	wp, err := d.Watchpoints.EnableAddress(d.allTids(), addr, size, kind, condition)
	if err != nil {
		return WatchpointView{}, err
	}
	return WatchpointView{Number: wp.Number, Address: wp.Address, Condition: wp.Condition, Size: wp.Size}, nil
}

// SetWatchpointOnExpression evaluates dqeText to an addressable value and
// installs a watchpoint over its address+size, per spec.md §4.10 and §4.6.
// The watchpoint is always installed unscoped, local variable or not: no
// end-of-scope companion breakpoint is set, and it is not removed when the
// owning function returns.
func (d *Debugger) SetWatchpointOnExpression(dqeText string, kind target.WatchKind, condition string) (WatchpointView, error) {
	if !d.started {
		return WatchpointView{}, ErrProcessNotStarted{}
	}
	val, err := d.ReadVariable(dqeText)
	if err != nil {
		return WatchpointView{}, ErrWatchSubjectNotFound{DQE: dqeText}
	}
	if !val.HasAddr {
		return WatchpointView{}, ErrWatchpointNoAddress{}
	}
	size := len(val.Bytes)
	if size == 0 {
		size = 8
	}

	tid, err := d.currentTid()
	if err != nil {
		return WatchpointView{}, err
	}
	frame, ok := d.Context.CurrentFrame()
	var creatorFrame target.FrameID
	if ok && frame.HasID {
		creatorFrame = frame.ID
	}

	wp, err := d.Watchpoints.EnableExpression(d.allTids(), val.Addr, size, kind, condition, dqeText, false, 0, scopeResolverImpl{d: d}, tid, creatorFrame)
	if err != nil {
		return WatchpointView{}, err
	}
	return WatchpointView{Number: wp.Number, Address: wp.Address, Condition: condition, SourceDQE: dqeText, Size: wp.Size}, nil
}

type scopeResolverImpl struct{ d *Debugger }

func (s scopeResolverImpl) ResolveScopeEnd(scopeEndAddr uint64) (uint64, bool) {
	obj := s.d.mainObject()
	if obj == nil || obj.Image == nil {
		return 0, false
	}
	global := scopeEndAddr - obj.StaticBase
	u, ok := obj.Image.UnitForPC(global)
	if !ok {
		return 0, false
	}
	if p, ok := u.LineMatrix().FirstStatementAtOrAfter(global); ok {
		return p.Address + obj.StaticBase, true
	}
	if p, ok := u.LineMatrix().LastStatementAtOrBefore(global); ok {
		return p.Address + obj.StaticBase, true
	}
	return 0, false
}

// RemoveWatchpoint removes a watchpoint by number.
func (d *Debugger) RemoveWatchpoint(number int) error {
	return d.Watchpoints.Disable(number)
}

// --- variable evaluation -----------------------------------------------------

type varLookupImpl struct {
	d         *Debugger
	threadTid int
}

func (v varLookupImpl) LookupVariable(name string, localsOnly bool) (addr uint64, typeID typegraph.TypeId, found bool) {
	obj := v.d.mainObject()
	if obj == nil || obj.Image == nil || obj.Graph == nil {
		return 0, 0, false
	}
	regs, err := target.GetRegs(v.threadTid)
	if err != nil {
		return 0, 0, false
	}
	global := regs.Rip - obj.StaticBase
	u, ok := obj.Image.UnitForPC(global)
	if !ok {
		return 0, 0, false
	}
	refs, err := u.VariablesNamed(name)
	if err != nil || len(refs) == 0 {
		if localsOnly {
			return 0, 0, false
		}
		for _, unit := range obj.Image.Units() {
			if unit == u {
				continue
			}
			if rs, err := unit.VariablesNamed(name); err == nil && len(rs) > 0 {
				refs = rs
				break
			}
		}
		if len(refs) == 0 {
			return 0, 0, false
		}
	}
	// Grounded on spec.md §4.2's location model: resolve the first
	// candidate's declared type, then evaluate its DW_AT_location
	// expression against the live register file to find its address. Most
	// locals/arguments carry a fixed expression (DW_OP_fbreg or a
	// frame-base-relative computation) rather than a PC-ranged loclist.
	entry, err := obj.Image.DIETreeEntry(refs[0].Offset)
	if err != nil {
		return 0, 0, false
	}
	typeOff, ok := entry.Val(dwarf.AttrType).(dwarf.Offset)
	if !ok {
		return 0, 0, false
	}
	if _, err := obj.Graph.Resolve(typeOff); err != nil {
		return 0, 0, false
	}
	locExpr, ok := entry.Val(dwarf.AttrLocation).([]byte)
	if !ok {
		return 0, 0, false
	}
	dwarfRegs := target.ToDwarfRegisters(regs, 0)
	addrVal, isStackVal, err := typegraphLocationEvaluator().Evaluate(locExpr, dwarfRegs, v.d.Mem.ReadMemory)
	if err != nil || isStackVal {
		return 0, 0, false
	}
	return uint64(addrVal), typegraph.TypeId(typeOff), true
}

// ReadVariable parses and evaluates dqeText against the focused thread and
// frame, per spec.md §4.8/§4.10.
func (d *Debugger) ReadVariable(dqeText string) (*dqe.Value, error) {
	if !d.started {
		return nil, ErrProcessNotStarted{}
	}
	expr, err := dqe.Parse(dqeText)
	if err != nil {
		return nil, err
	}
	tid, err := d.currentTid()
	if err != nil {
		return nil, err
	}
	regs, err := target.GetRegs(tid)
	if err != nil {
		return nil, err
	}
	obj := d.mainObject()
	if obj == nil || obj.Graph == nil {
		return nil, ErrNoSuitablePlace{What: "no loaded type graph"}
	}
	ev := &dqe.Evaluator{
		Graph:   obj.Graph,
		Mem:     d.Mem,
		Loc:     typegraphLocationEvaluator(),
		Vars:    varLookupImpl{d: d, threadTid: tid},
		Types:   typeResolverImpl{d: d},
		PtrSize: 8,
		Regs:    target.ToDwarfRegisters(regs, 0),
	}
	return ev.Eval(expr)
}

// typeResolverImpl resolves a pointer-cast's bare type name against the
// main object's image, searching every compilation unit, and folds the
// match into the evaluator's type graph so the returned TypeId is already
// backed by a resolved typegraph.TypeDeclaration.
type typeResolverImpl struct{ d *Debugger }

func (r typeResolverImpl) TypeIdByName(name string) (typegraph.TypeId, bool) {
	obj := r.d.mainObject()
	if obj == nil || obj.Image == nil || obj.Graph == nil {
		return 0, false
	}
	off, ok, err := obj.Image.TypeOffsetNamed(name)
	if err != nil || !ok {
		return 0, false
	}
	if _, err := obj.Graph.Resolve(off); err != nil {
		return 0, false
	}
	return typegraph.TypeId(off), true
}

func typegraphLocationEvaluator() *typegraph.LocationEvaluator {
	return typegraph.NewLocationEvaluator(8)
}

// ReadVariableNames returns the sorted, de-duplicated variable names indexed
// for the compilation unit containing the current PC, per spec.md §4.10's
// "read ... variable names" operation.
func (d *Debugger) ReadVariableNames() ([]string, error) {
	if !d.started {
		return nil, ErrProcessNotStarted{}
	}
	tid, err := d.currentTid()
	if err != nil {
		return nil, err
	}
	regs, err := target.GetRegs(tid)
	if err != nil {
		return nil, err
	}
	obj := d.mainObject()
	if obj == nil || obj.Image == nil {
		return nil, nil
	}
	global := regs.Rip - obj.StaticBase
	u, ok := obj.Image.UnitForPC(global)
	if !ok {
		return nil, nil
	}
	return u.VariableNames()
}

// --- registers and memory ---------------------------------------------------

// GetRegister reads a named register's current value for the focused
// thread, per spec.md §4.10.
func (d *Debugger) GetRegister(name string) (uint64, error) {
	tid, err := d.currentTid()
	if err != nil {
		return 0, err
	}
	regs, err := target.GetRegs(tid)
	if err != nil {
		return 0, err
	}
	v, ok := registerByName(regs, name)
	if !ok {
		return 0, ErrRegisterNameNotFound{Name: name}
	}
	return v, nil
}

// SetRegister writes a named register's value for the focused thread.
func (d *Debugger) SetRegister(name string, value uint64) error {
	tid, err := d.currentTid()
	if err != nil {
		return err
	}
	regs, err := target.GetRegs(tid)
	if err != nil {
		return err
	}
	if !setRegisterByName(regs, name, value) {
		return ErrRegisterNameNotFound{Name: name}
	}
	return target.SetRegs(tid, regs)
}

// ReadMemory reads length bytes of tracee memory at addr, per spec.md
// §4.10.
func (d *Debugger) ReadMemory(addr uint64, length int) ([]byte, error) {
	if !d.started {
		return nil, ErrProcessNotStarted{}
	}
	buf := make([]byte, length)
	if _, err := d.Mem.ReadMemory(buf, addr); err != nil {
		return nil, err
	}
	return buf, nil
}

// --- supplemented features (from original_source/) --------------------------

// AsmInstruction is one decoded machine instruction, for Disassemble.
type AsmInstruction struct {
	Addr uint64
	Len  int
	Text string
}

// Disassemble decodes the instruction stream covering [low, high), per
// SPEC_FULL.md's supplemented "Function disassembly" feature grounded on
// BugStalker's debugger/mod.rs disasm().
func (d *Debugger) Disassemble(low, high uint64) ([]AsmInstruction, error) {
	if high <= low {
		return nil, fmt.Errorf("debugger: disassemble range is empty")
	}
	buf := make([]byte, high-low)
	if _, err := d.Mem.ReadMemory(buf, low); err != nil {
		return nil, err
	}
	var out []AsmInstruction
	for off := 0; off < len(buf); {
		inst, err := x86asm.Decode(buf[off:], 64)
		if err != nil || inst.Len == 0 {
			break
		}
		out = append(out, AsmInstruction{Addr: low + uint64(off), Len: inst.Len, Text: x86asm.GNUSyntax(inst, low+uint64(off), nil)})
		off += inst.Len
	}
	return out, nil
}

// KnownFiles returns the set of source files referenced by every loaded
// compilation unit, per SPEC_FULL.md's supplemented "known files" feature.
func (d *Debugger) KnownFiles() []string {
	seen := map[string]bool{}
	var out []string
	for _, obj := range d.objects {
		if obj.Image == nil {
			continue
		}
		for _, u := range obj.Image.Units() {
			for _, f := range u.Files() {
				if f != "" && !seen[f] {
					seen[f] = true
					out = append(out, f)
				}
			}
		}
	}
	sort.Strings(out)
	return out
}

// SharedLibs returns the currently mapped object set, per SPEC_FULL.md's
// supplemented "shared library enumeration" feature.
func (d *Debugger) SharedLibs() []address.Mapping {
	return d.Addrs.Mappings()
}

// SymbolSearch returns every function whose qualified name matches pattern,
// per SPEC_FULL.md's supplemented "symbol search" feature.
func (d *Debugger) SymbolSearch(pattern string) ([]string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("debugger: compiling symbol pattern: %w", err)
	}
	var out []string
	for _, obj := range d.objects {
		if obj.Image == nil {
			continue
		}
		for _, u := range obj.Image.Units() {
			fns, err := u.AllFunctions()
			if err != nil {
				continue
			}
			for _, fn := range fns {
				if re.MatchString(fn.QualifiedName()) {
					out = append(out, fn.QualifiedName())
				}
			}
		}
	}
	return out, nil
}
