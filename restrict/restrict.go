package restrict

import (
	"path/filepath"
	"sort"
	"strconv"
	"syscall"

	"codeberg.org/iklabib/nssweep/configs"
	"github.com/elastic/go-seccomp-bpf"
	"github.com/moby/sys/user"
	"github.com/pkg/errors"
	"github.com/shoenig/go-landlock"
)

// ChildEnv renders the configured envs as KEY=VALUE in key order. nil means
// there is nothing to add to the inherited environment.
func ChildEnv(envs map[string]string) []string {
	if len(envs) == 0 {
		return nil
	}

	keys := make([]string, 0, len(envs))
	for k := range envs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+envs[k])
	}
	return env
}

// Credential resolves user and group names (or numeric ids) for
// SysProcAttr.Credential. Both empty means no switch.
func Credential(userName, groupName string) (*syscall.Credential, error) {
	if userName == "" && groupName == "" {
		return nil, nil
	}
	if userName == "" {
		return nil, errors.Errorf("group '%s' given without user", groupName)
	}

	u, err := lookupUser(userName)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to look up user '%s'", userName)
	}
	if u.Uid == 0 {
		return nil, errors.New("uid 0 is not allowed")
	}

	gid := u.Gid
	if groupName != "" {
		g, err := lookupGroup(groupName)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to look up group '%s'", groupName)
		}
		gid = g.Gid
	}

	return &syscall.Credential{
		Uid:    uint32(u.Uid),
		Gid:    uint32(gid),
		Groups: []uint32{uint32(gid)},
	}, nil
}

func lookupUser(name string) (user.User, error) {
	if id, err := strconv.Atoi(name); err == nil {
		return user.LookupUid(id)
	}
	return user.LookupUser(name)
}

func lookupGroup(name string) (user.Group, error) {
	if id, err := strconv.Atoi(name); err == nil {
		return user.LookupGid(id)
	}
	return user.LookupGroup(name)
}

// Enforce locks down the sweep process. Simulators started afterwards
// inherit both the landlock ruleset and the seccomp filter.
//
// executable is granted rx on its directory, writable is granted rwc.
func Enforce(config configs.Sandbox, executable string, writable ...string) error {
	if !config.Enabled {
		return nil
	}

	if err := EnforceLandlock(config, executable, writable...); err != nil {
		return err
	}

	if config.Seccomp != nil {
		return EnforceSeccomp(*config.Seccomp)
	}
	return nil
}

func EnforceSeccomp(policy seccomp.Policy) error {
	if !seccomp.Supported() {
		return errors.New("seccomp is not supported")
	}

	filter := seccomp.Filter{
		NoNewPrivs: true,
		Flag:       seccomp.FilterFlagTSync,
		Policy:     policy,
	}

	if err := seccomp.LoadFilter(filter); err != nil {
		return errors.Wrap(err, "failed to load seccomp filter")
	}
	return nil
}

func EnforceLandlock(config configs.Sandbox, executable string, writable ...string) error {
	paths, err := LandlockPaths(config, executable, writable...)
	if err != nil {
		return err
	}

	ll := landlock.New(paths...)
	if err := ll.Lock(landlock.Mandatory); err != nil {
		return errors.Wrap(err, "failed to enforce landlock")
	}
	return nil
}

func LandlockPaths(config configs.Sandbox, executable string, writable ...string) ([]*landlock.Path, error) {
	var paths []*landlock.Path

	if config.Tty {
		paths = append(paths, landlock.TTY())
	}

	if config.Shared {
		paths = append(paths, landlock.Shared())
	}

	if config.Tmp {
		paths = append(paths, landlock.Tmp())
	}

	if config.Dns {
		paths = append(paths, landlock.DNS())
	}

	if config.VMInfo {
		paths = append(paths, landlock.VMInfo())
	}

	for _, v := range config.Files {
		lp, err := landlock.ParsePath(v)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid sandbox path '%s'", v)
		}
		paths = append(paths, lp)
	}

	if executable != "" {
		dir, err := filepath.Abs(filepath.Dir(executable))
		if err != nil {
			return nil, err
		}
		paths = append(paths, landlock.Dir(dir, "rx"))
	}

	for _, w := range writable {
		dir, err := filepath.Abs(w)
		if err != nil {
			return nil, err
		}
		paths = append(paths, landlock.Dir(dir, "rwc"))
	}

	return paths, nil
}
