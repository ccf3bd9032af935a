package cgroup

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"codeberg.org/iklabib/nssweep/configs"
	"github.com/pkg/errors"
)

var cgroupRoot string = "/sys/fs/cgroup"

type CGroup struct {
	name     string
	controls map[string]bool
	fullPath string
	dir      *os.File
	created  bool // removed again by Release
}

// Events holds the counters a limit violation bumps.
type Events struct {
	OomKill   int64
	MemoryMax int64
	PidsMax   int64
}

// Setup creates (or reuses) the group described by the config and applies
// its limits.
func Setup(config configs.Cgroup) (*CGroup, error) {
	cg, err := LoadGroup(config.Name)
	if err != nil {
		cg, err = New(config.Name)
		if err != nil {
			return nil, err
		}
		cg.created = true
	}

	if err := cg.apply(config); err != nil {
		cg.Release()
		return nil, err
	}
	return cg, nil
}

func (cg *CGroup) apply(config configs.Cgroup) error {
	if err := cg.SetCpu(config.Cpu); err != nil {
		return err
	}
	if err := cg.SetMaximumPids(config.MaxPids); err != nil {
		return err
	}
	return cg.SetMaximumMemory(config.MaxMemory)
}

func New(name string) (*CGroup, error) {
	dir := filepath.Join(cgroupRoot, name)

	if err := os.Mkdir(dir, 0o755); err != nil {
		err = errors.Wrap(err, "failed to create new cgroup")
		return nil, err
	}

	cg, err := LoadGroup(name)
	if err != nil {
		os.Remove(dir)
		return nil, err
	}
	return cg, nil
}

func LoadGroup(name string) (*CGroup, error) {
	dir := filepath.Join(cgroupRoot, name)
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}

	controls, err := availableControls(dir)
	if err != nil {
		return nil, err
	}

	if len(controls) == 0 {
		return nil, errors.New("no controllers available")
	}

	cg := CGroup{
		name:     name,
		fullPath: dir,
		controls: map[string]bool{},
	}

	for _, ctl := range controls {
		cg.controls[ctl] = true
	}

	return &cg, nil
}

func (cg *CGroup) Path() string {
	return cg.fullPath
}

func (cg *CGroup) Name() string {
	return cg.name
}

func (cg *CGroup) SetCpu(cpu configs.Cpu) error {
	if cpu.Weight > 0 {
		if err := cg.SetControl("cpu.weight", fmt.Sprintf("%d", cpu.Weight)); err != nil {
			return err
		}
	}

	if cpu.Time > 0 && cpu.Period > 0 {
		return cg.SetControl("cpu.max", fmt.Sprintf("%d %d", cpu.Time, cpu.Period))
	}
	return nil
}

func (cg *CGroup) SetMaximumPids(lim int) error {
	// no-op
	if lim == 0 {
		return nil
	}
	return cg.SetControl("pids.max", fmt.Sprintf("%d", lim))
}

func (cg *CGroup) SetMaximumMemory(lim string) error {
	// no-op
	if lim == "" {
		return nil
	}

	if err := cg.SetControl("memory.max", lim); err != nil {
		return err
	}
	if err := cg.DisableSwap(); err != nil {
		return err
	}
	return cg.SetControl("memory.oom.group", "1")
}

func (cg *CGroup) DisableSwap() error {
	// disable swap
	if err := cg.write("memory.swap.max", "0"); err != nil {
		return err
	}

	// disable zswap
	return cg.write("memory.zswap.max", "0")
}

func (cg *CGroup) IsControlAvailable(name string) bool {
	return cg.controls[name]
}

func (cg *CGroup) SetControl(name, lim string) error {
	ctl := filepath.Join(cg.fullPath, name)
	if _, err := os.Stat(ctl); os.IsNotExist(err) {
		return errors.Errorf("invalid control %s", name)
	}

	return cg.write(name, lim)
}

// GetFD returns a descriptor of the group directory for SysProcAttr.CgroupFD.
func (cg *CGroup) GetFD() (int, error) {
	if cg.dir != nil {
		return int(cg.dir.Fd()), nil
	}

	f, err := os.Open(cg.fullPath)
	if err != nil {
		return 0, err
	}
	cg.dir = f

	return int(cg.dir.Fd()), nil
}

func (cg *CGroup) CloseFd() error {
	if cg.dir == nil {
		return nil
	}
	err := cg.dir.Close()
	cg.dir = nil
	return err
}

// Kill signals every process in the group, including ones that left the
// simulator's process group.
func (cg *CGroup) Kill() error {
	return cg.write("cgroup.kill", "1")
}

// Release closes the directory fd and removes the group if Setup created it.
func (cg *CGroup) Release() error {
	if err := cg.CloseFd(); err != nil {
		return err
	}
	if !cg.created {
		return nil
	}
	return DeleteGroup(cg.name)
}

// Events reads the current violation counters. Missing files count as zero.
func (cg *CGroup) Events() (Events, error) {
	var ev Events

	memory, err := readKeyed(filepath.Join(cg.fullPath, "memory.events"))
	if err != nil {
		return ev, err
	}
	pids, err := readKeyed(filepath.Join(cg.fullPath, "pids.events"))
	if err != nil {
		return ev, err
	}

	ev.OomKill = memory["oom_kill"]
	ev.MemoryMax = memory["max"]
	ev.PidsMax = pids["max"]
	return ev, nil
}

// Violations describes what changed between two Events snapshots.
func Violations(before, after Events) []string {
	var msgs []string
	if after.OomKill > before.OomKill {
		msgs = append(msgs, "memory limit exceeded (oom kill)")
	} else if after.MemoryMax > before.MemoryMax {
		msgs = append(msgs, "memory limit reached")
	}
	if after.PidsMax > before.PidsMax {
		msgs = append(msgs, "pids limit reached")
	}
	return msgs
}

func (cg *CGroup) write(name, lim string) error {
	path := filepath.Join(cg.fullPath, name)
	// no-op when does not exist
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return os.WriteFile(path, []byte(lim), 0o644)
}

func readKeyed(path string) (map[string]int64, error) {
	values := map[string]int64{}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return values, nil
	}
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		n, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		values[fields[0]] = n
	}
	return values, scanner.Err()
}

func availableControls(path string) ([]string, error) {
	ctl := filepath.Join(path, "cgroup.controllers")
	rawBytes, err := os.ReadFile(ctl)
	if err != nil {
		return nil, err
	}

	return strings.Fields(string(rawBytes)), nil
}

func DeleteGroup(name string) error {
	path := filepath.Join(cgroupRoot, name)
	// cgroupfs directories are removed with rmdir, not recursively
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to delete cgroup group %s", name)
	}
	return nil
}
