package simulator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fansqz/debug-session/debugger"
)

var errStaleValue = errors.New("simulator: value is no longer valid")

// Value values are bound to the stop they were read in and go stale as soon
// as the process resumes.
type Value struct {
	proc     *Process
	stopID   uint64
	key      string
	name     string
	typ      string
	addr     uint64
	size     uint64
	summary  string
	constant string
	readOnly bool
	children []*Value
}

func (v *Value) valid() bool {
	return v.proc.requireStopped() == nil && v.proc.stopID == v.stopID
}

func (v *Value) IsValid() bool {
	defer v.proc.lock()()
	return v.valid()
}

func (v *Value) Name() string { return v.name }

func (v *Value) TypeName() string { return v.typ }

func (v *Value) Value() string {
	defer v.proc.lock()()
	if v.constant != "" {
		return v.constant
	}
	if v.key == "" {
		return ""
	}
	return v.proc.vars[v.key]
}

func (v *Value) Summary() string { return v.summary }

func (v *Value) Address() uint64 { return v.addr }

func (v *Value) ByteSize() uint64 { return v.size }

func (v *Value) NumChildren() int { return len(v.children) }

func (v *Value) Child(index int) debugger.Value {
	if index < 0 || index >= len(v.children) {
		return nil
	}
	return v.children[index]
}

func (v *Value) SetValue(value string) error {
	defer v.proc.lock()()
	if !v.valid() {
		return errStaleValue
	}
	if v.readOnly || v.key == "" {
		return fmt.Errorf("simulator: %s is not modifiable", v.name)
	}
	value = strings.TrimSpace(value)
	switch {
	case v.typ == "int":
		n, err := strconv.ParseInt(value, 0, 32)
		if err != nil {
			return fmt.Errorf("simulator: could not convert '%s' to int", value)
		}
		value = strconv.FormatInt(n, 10)
	case strings.HasSuffix(v.typ, "*"):
		n, err := strconv.ParseUint(value, 0, 64)
		if err != nil {
			return fmt.Errorf("simulator: could not convert '%s' to %s", value, v.typ)
		}
		value = fmt.Sprintf("0x%016x", n)
	}
	v.proc.vars[v.key] = value
	return nil
}

func (v *Value) Watch(read, write bool) (debugger.Watchpoint, error) {
	defer v.proc.lock()()
	if !v.valid() {
		return nil, errStaleValue
	}
	if !read && !write {
		return nil, errors.New("simulator: watchpoint must watch reads or writes")
	}
	if v.size == 0 || v.size > 8 {
		return nil, fmt.Errorf("simulator: cannot watch %d bytes", v.size)
	}
	return v.proc.target.addWatchpoint(v, read, write), nil
}
