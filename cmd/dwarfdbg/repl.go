package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-delve/liner"

	"github.com/dwarfdbg/dwarfdbg/pkg/config"
	"github.com/dwarfdbg/dwarfdbg/pkg/debugger"
	"github.com/dwarfdbg/dwarfdbg/pkg/target"
)

const prompt = "(dwarfdbg) "

func runExec(cfg *config.Config, path string, args []string) error {
	dbg := debugger.New(cfg, newTerminalHooks())
	if err := dbg.StartDebugee(path, args); err != nil {
		return fmt.Errorf("dwarfdbg: starting %s: %w", path, err)
	}
	return runLoop(dbg)
}

func runAttach(cfg *config.Config, pid int, objectPath string) error {
	dbg := debugger.New(cfg, newTerminalHooks())
	if err := dbg.AttachDebugee(pid, objectPath); err != nil {
		return fmt.Errorf("dwarfdbg: attaching to pid %d: %w", pid, err)
	}
	return runLoop(dbg)
}

func runLoop(dbg *debugger.Debugger) error {
	if headless {
		return runHeadless(dbg, os.Stdin)
	}
	return runInteractive(dbg)
}

// runHeadless reads one command per line from r, the script-friendly mode
// the teacher's own `--headless` flag models, minus the DAP listener this
// repository leaves to an external collaborator.
func runHeadless(dbg *debugger.Debugger, r io.Reader) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if quit := dispatch(dbg, line); quit {
			return nil
		}
	}
	return sc.Err()
}

func runInteractive(dbg *debugger.Debugger) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt(prompt)
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)
		if quit := dispatch(dbg, input); quit {
			return nil
		}
	}
}

// dispatch runs one command line, reporting whether the session should
// end.
func dispatch(dbg *debugger.Debugger, line string) (quit bool) {
	fields := strings.Fields(line)
	cmd, rest := fields[0], fields[1:]

	var err error
	switch cmd {
	case "quit", "exit", "q":
		return true

	case "continue", "c":
		err = dbg.ContinueDebugee()
	case "pause":
		err = dbg.Pause()
	case "restart", "r":
		err = dbg.Restart()

	case "next", "n":
		err = dbg.StepOver()
	case "step", "s":
		err = dbg.StepInto()
	case "stepout", "so":
		err = dbg.StepOut()
	case "stepi", "si":
		err = dbg.StepSingleInstruction()

	case "break", "b":
		err = cmdBreak(dbg, rest)
	case "clear":
		err = cmdClear(dbg, rest)
	case "trigger":
		err = cmdTrigger(dbg, rest)

	case "watch":
		err = cmdWatch(dbg, rest)
	case "unwatch":
		err = cmdUnwatch(dbg, rest)

	case "print", "p":
		err = cmdPrint(dbg, rest)
	case "locals":
		err = cmdLocals(dbg)

	case "bt", "backtrace":
		err = cmdBacktrace(dbg)
	case "frame":
		err = cmdFrame(dbg, rest)
	case "thread":
		err = cmdThread(dbg, rest)

	case "reg":
		err = cmdReg(dbg, rest)
	case "setreg":
		err = cmdSetReg(dbg, rest)

	case "disas":
		err = cmdDisas(dbg, rest)
	case "files":
		err = cmdFiles(dbg)
	case "libs":
		err = cmdLibs(dbg)
	case "symbol":
		err = cmdSymbol(dbg, rest)

	case "help", "?":
		printHelp()
	default:
		err = fmt.Errorf("unknown command %q (try 'help')", cmd)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return false
}

func cmdBreak(dbg *debugger.Debugger, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: break <file:line|function|0xaddr>")
	}
	spec, err := parseBreakSpec(args[0])
	if err != nil {
		return err
	}
	views, err := dbg.SetBreakpoint(spec)
	if err != nil {
		return err
	}
	if len(views) == 0 {
		fmt.Println("breakpoint deferred (no match yet)")
		return nil
	}
	for _, v := range views {
		fmt.Printf("breakpoint #%d at %#x\n", v.Number, v.Addr)
	}
	return nil
}

func parseBreakSpec(text string) (target.Spec, error) {
	if strings.HasPrefix(text, "0x") {
		addr, err := strconv.ParseUint(text[2:], 16, 64)
		if err != nil {
			return target.Spec{}, fmt.Errorf("parsing address %q: %w", text, err)
		}
		return target.Spec{Addr: addr, HasAddr: true}, nil
	}
	if idx := strings.LastIndex(text, ":"); idx >= 0 {
		if line, err := strconv.Atoi(text[idx+1:]); err == nil {
			return target.Spec{File: text[:idx], Line: line}, nil
		}
	}
	return target.Spec{FuncName: text}, nil
}

func cmdClear(dbg *debugger.Debugger, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: clear <breakpoint number>")
	}
	num, err := strconv.Atoi(args[0])
	if err != nil {
		return err
	}
	view, err := dbg.RemoveBreakpoint(num)
	if err != nil {
		return err
	}
	fmt.Printf("cleared breakpoint #%d at %#x\n", view.Number, view.Addr)
	return nil
}

func cmdTrigger(dbg *debugger.Debugger, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: trigger <breakpoint number> <script path>")
	}
	num, err := strconv.Atoi(args[0])
	if err != nil {
		return err
	}
	source, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}
	if err := dbg.Trigger.Register(args[1], string(source)); err != nil {
		return err
	}
	return dbg.AttachTrigger(num, args[1])
}

func cmdWatch(dbg *debugger.Debugger, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: watch [rw] <expression>")
	}
	kind := target.WatchWrite
	if args[0] == "rw" {
		kind = target.WatchReadWrite
		args = args[1:]
	}
	if len(args) == 0 {
		return fmt.Errorf("usage: watch [rw] <expression>")
	}
	expr := strings.Join(args, " ")
	view, err := dbg.SetWatchpointOnExpression(expr, kind, "")
	if err != nil {
		return err
	}
	fmt.Printf("watchpoint #%d on %s at %#x (size %d)\n", view.Number, expr, view.Address, view.Size)
	return nil
}

func cmdUnwatch(dbg *debugger.Debugger, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: unwatch <watchpoint number>")
	}
	num, err := strconv.Atoi(args[0])
	if err != nil {
		return err
	}
	return dbg.RemoveWatchpoint(num)
}

func cmdPrint(dbg *debugger.Debugger, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: print <expression>")
	}
	val, err := dbg.ReadVariable(strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Println(formatValue(val))
	return nil
}

func cmdLocals(dbg *debugger.Debugger) error {
	names, err := dbg.ReadVariableNames()
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

func cmdBacktrace(dbg *debugger.Debugger) error {
	frames, err := dbg.Backtrace(dbg.Context.ThreadNum)
	if err != nil {
		return err
	}
	for i, fr := range frames {
		loc := fr.FuncName
		if fr.HasPlace {
			loc = fmt.Sprintf("%s (%s:%d)", loc, fr.File, fr.Line)
		}
		fmt.Printf("#%-2d %#016x %s\n", i, fr.IP, loc)
	}
	return nil
}

func cmdFrame(dbg *debugger.Debugger, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: frame <index>")
	}
	idx, err := strconv.Atoi(args[0])
	if err != nil {
		return err
	}
	return dbg.SetFrameFocus(idx)
}

func cmdThread(dbg *debugger.Debugger, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: thread <number>")
	}
	num, err := strconv.Atoi(args[0])
	if err != nil {
		return err
	}
	return dbg.SetThreadFocus(num)
}

func cmdReg(dbg *debugger.Debugger, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: reg <name>")
	}
	v, err := dbg.GetRegister(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s = %#x\n", args[0], v)
	return nil
}

func cmdSetReg(dbg *debugger.Debugger, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: setreg <name> <0xvalue>")
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(args[1], "0x"), 16, 64)
	if err != nil {
		return err
	}
	return dbg.SetRegister(args[0], v)
}

func cmdDisas(dbg *debugger.Debugger, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: disas <0xlow> <0xhigh>")
	}
	low, err := strconv.ParseUint(strings.TrimPrefix(args[0], "0x"), 16, 64)
	if err != nil {
		return err
	}
	high, err := strconv.ParseUint(strings.TrimPrefix(args[1], "0x"), 16, 64)
	if err != nil {
		return err
	}
	insts, err := dbg.Disassemble(low, high)
	if err != nil {
		return err
	}
	for _, in := range insts {
		fmt.Printf("%#016x\t%s\n", in.Addr, in.Text)
	}
	return nil
}

func cmdFiles(dbg *debugger.Debugger) error {
	for _, f := range dbg.KnownFiles() {
		fmt.Println(f)
	}
	return nil
}

func cmdLibs(dbg *debugger.Debugger) error {
	for _, m := range dbg.SharedLibs() {
		fmt.Printf("%#016x-%#016x %s\n", m.Begin, m.End, m.Name)
	}
	return nil
}

func cmdSymbol(dbg *debugger.Debugger, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: symbol <regexp>")
	}
	names, err := dbg.SymbolSearch(args[0])
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

func printHelp() {
	fmt.Println(`commands:
  break|b <file:line|func|0xaddr>   set a breakpoint
  clear <num>                       remove a breakpoint
  trigger <num> <script>            attach a starlark script to a breakpoint
  watch [rw] <expr>                 set a watchpoint on an expression
  unwatch <num>                     remove a watchpoint
  continue|c                        resume execution
  pause                             stop a running process
  restart|r                         restart the debugee
  next|n                            step over
  step|s                            step into
  stepout|so                        step out
  stepi|si                          step one instruction
  print|p <expr>                    evaluate and print an expression
  locals                            list variable names in scope
  bt                                print a backtrace
  frame <n>                         focus a backtrace frame
  thread <n>                        focus a thread
  reg <name> / setreg <name> <hex>  read/write a register
  disas <0xlow> <0xhigh>            disassemble a range
  files / libs / symbol <re>        list source files / shared libs / symbols
  quit|exit|q                       leave the debugger`)
}
