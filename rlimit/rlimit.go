package rlimit

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	RLIMIT_AS     = "RLIMIT_AS"
	RLIMIT_CPU    = "RLIMIT_CPU"
	RLIMIT_CORE   = "RLIMIT_CORE"
	RLIMIT_DATA   = "RLIMIT_DATA"
	RLIMIT_FSIZE  = "RLIMIT_FSIZE"
	RLIMIT_NOFILE = "RLIMIT_NOFILE"
	RLIMIT_STACK  = "RLIMIT_STACK"
)

var resources = map[string]int{
	RLIMIT_AS:     unix.RLIMIT_AS,
	RLIMIT_CPU:    unix.RLIMIT_CPU,
	RLIMIT_CORE:   unix.RLIMIT_CORE,
	RLIMIT_DATA:   unix.RLIMIT_DATA,
	RLIMIT_FSIZE:  unix.RLIMIT_FSIZE,
	RLIMIT_NOFILE: unix.RLIMIT_NOFILE,
	RLIMIT_STACK:  unix.RLIMIT_STACK,
}

type Rlimit struct {
	Resource string `config:"resource" yaml:"resource" json:"resource"`
	Soft     uint64 `config:"soft" yaml:"soft" json:"soft"`
	Hard     uint64 `config:"hard" yaml:"hard" json:"hard"`
}

func (rl Rlimit) Validate() error {
	if _, ok := resources[rl.Resource]; !ok {
		return errors.Errorf("unknown rlimit resource option '%s'", rl.Resource)
	}
	if rl.Soft > rl.Hard {
		return errors.Errorf("rlimit %s: soft limit %d above hard limit %d", rl.Resource, rl.Soft, rl.Hard)
	}
	return nil
}

// ApplyTo sets the limit on a running process, the simulator is started
// first and limited right after.
func (rl Rlimit) ApplyTo(pid int) error {
	resource, ok := resources[rl.Resource]
	if !ok {
		return errors.Errorf("unknown rlimit resource option '%s'", rl.Resource)
	}

	limit := &unix.Rlimit{Cur: rl.Soft, Max: rl.Hard}
	if err := unix.Prlimit(pid, resource, limit, nil); err != nil {
		return errors.Wrapf(err, "failed to set %s on pid %d", rl.Resource, pid)
	}
	return nil
}

func ApplyAll(pid int, rlimits []Rlimit) error {
	for _, rl := range rlimits {
		if err := rl.ApplyTo(pid); err != nil {
			return err
		}
	}
	return nil
}
