package simulator

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
)

const (
	textBase  uint64 = 0x1000
	instrSize uint64 = 4
	stackBase uint64 = 0x7ffe0000
	dataBase  uint64 = 0x402000
)

// Function 程序中的函数，从Line开始到下一个函数之前结束
type Function struct {
	Name string
	Line uint32
}

// Program is the straight-line model the simulator executes: one source
// file, one instruction per line, no branches.
type Program struct {
	Source    string
	Lines     uint32
	Functions []Function
	// OutputLine writes Output to the debuggee's stdout when reached.
	OutputLine uint32
	Output     string
	ExitCode   int
	// Spin keeps the process running at the last line instead of exiting.
	Spin bool
}

// DefaultProgram models path as "<base>.c" with two functions.
func DefaultProgram(path string) *Program {
	return &Program{
		Source: filepath.Base(path) + ".c",
		Lines:  20,
		Functions: []Function{
			{Name: "main", Line: 1},
			{Name: "compute", Line: 12},
		},
		OutputLine: 5,
		Output:     "Hello, World!\n",
	}
}

func (p *Program) addressOf(line uint32) uint64 {
	return textBase + uint64(line-1)*instrSize
}

func (p *Program) textEnd() uint64 {
	return textBase + uint64(p.Lines)*instrSize
}

// lineOf 地址对应的行号，地址必须按指令对齐
func (p *Program) lineOf(address uint64) (uint32, bool) {
	if address < textBase || address >= p.textEnd() || (address-textBase)%instrSize != 0 {
		return 0, false
	}
	return uint32((address-textBase)/instrSize) + 1, true
}

func (p *Program) matchesSource(file string) bool {
	return file == p.Source || filepath.Base(file) == p.Source
}

func (p *Program) function(name string) (Function, bool) {
	return lo.Find(p.Functions, func(fn Function) bool { return fn.Name == name })
}

// functionAt returns the function containing line and the last line of it.
func (p *Program) functionAt(line uint32) (Function, uint32) {
	var current Function
	end := p.Lines
	for i, fn := range p.Functions {
		if fn.Line > line {
			break
		}
		current = fn
		if i+1 < len(p.Functions) {
			end = p.Functions[i+1].Line - 1
		} else {
			end = p.Lines
		}
	}
	return current, end
}

func (p *Program) instructionAt(line uint32) (mnemonic, operands string) {
	fn, end := p.functionAt(line)
	switch {
	case line == fn.Line:
		return "push", "rbp"
	case line == end:
		return "ret", ""
	case line == p.OutputLine:
		return "call", "puts"
	}
	switch line % 3 {
	case 0:
		return "mov", fmt.Sprintf("dword ptr [rbp - %d], %d", 4*(line%4+1), line)
	case 1:
		return "add", "eax, 1"
	default:
		return "cmp", "eax, ecx"
	}
}

func (p *Program) instructionBytes(line uint32) []byte {
	mnemonic, _ := p.instructionAt(line)
	b := []byte{0x48, 0x89, byte(line), 0xe5}
	b[0] ^= byte(len(mnemonic))
	return b
}

func (p *Program) String() string {
	names := lo.Map(p.Functions, func(fn Function, _ int) string {
		return fmt.Sprintf("%s@%d", fn.Name, fn.Line)
	})
	return fmt.Sprintf("%s (%d lines; %s)", p.Source, p.Lines, strings.Join(names, ", "))
}
