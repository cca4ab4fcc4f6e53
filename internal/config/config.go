// Package config parses and validates the static program declarations a
// taskmaster instance supervises. It owns the YAML schema and the
// per-field defaulting/validation rules; it never spawns a process.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Signal names accepted for stopsignal, drawn from the fixed set the
// supervisor recognizes (§3 of spec.md) rather than every signal the OS
// defines.
const (
	SigTERM = "TERM"
	SigINT  = "INT"
	SigHUP  = "HUP"
	SigKILL = "KILL"
	SigUSR1 = "USR1"
	SigUSR2 = "USR2"
	SigQUIT = "QUIT"
)

var validStopSignals = map[string]bool{
	SigTERM: true, SigINT: true, SigHUP: true, SigKILL: true,
	SigUSR1: true, SigUSR2: true, SigQUIT: true,
}

// Autorestart is the policy governing whether a program's task is
// restarted after it exits.
type Autorestart string

const (
	AutorestartNever      Autorestart = "never"
	AutorestartAlways     Autorestart = "always"
	AutorestartUnexpected Autorestart = "unexpected"
)

// Program is one validated, fully-defaulted program declaration (§3).
// It is immutable once produced by Validate; reread's diff relies on
// comparing two Programs field-by-field (or their RawYAML) for equality.
type Program struct {
	Name         string
	Cmd          []string
	NumProcs     int
	Umask        string
	WorkingDir   string
	AutoStart    bool
	AutoRestart  Autorestart
	ExitCodes    []int
	StartRetries int
	StartTime    int // seconds
	StopSignal   string
	StopTime     int // seconds
	Stdout       string // empty means discard
	Stderr       string // empty means discard
	Env          map[string]string

	// RawYAML is the normalized source mapping this Program was built
	// from, retained so reread can byte-compare declarations the way
	// original_source/Supervisor.py compares raw_config dicts.
	RawYAML string
}

// File is the top-level "programs:" document.
type File struct {
	Programs map[string]Program
	// Order lists the program names sorted alphabetically (not in YAML
	// declaration order), for deterministic iteration in tests and status
	// listings.
	Order []string
}

// ValidationError names the offending program and field, matching the
// "Task '{name}': {msg}" shape original_source/validate.py always used.
type ValidationError struct {
	Program string
	Msg     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Task '%s': %s", e.Program, e.Msg)
}

func errf(name, format string, args ...any) error {
	return &ValidationError{Program: name, Msg: fmt.Sprintf(format, args...)}
}

// rawDoc mirrors the YAML shape loosely so unknown keys are ignored and
// missing keys are detectable (map lookups return "found" bools) rather
// than silently zero-valuing through a strict struct.
type rawDoc struct {
	Programs map[string]map[string]any `yaml:"programs"`
}

// Load reads and validates path, returning the fully-defaulted File.
// Any error here is a configuration error: the caller (Supervisor.LoadConfig)
// is expected to abort the process per §4.3.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}
	return Parse(data)
}

// Parse validates an in-memory YAML document. Splitting Parse from Load
// keeps tests able to exercise the validator without a file on disk.
func Parse(data []byte) (*File, error) {
	var doc rawDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	if doc.Programs == nil {
		return nil, fmt.Errorf("configuration file must have a section 'programs:'")
	}

	names := make([]string, 0, len(doc.Programs))
	for name := range doc.Programs {
		names = append(names, name)
	}
	sort.Strings(names)

	file := &File{Programs: make(map[string]Program, len(names)), Order: names}
	for _, name := range names {
		prog, err := validateProgram(name, doc.Programs[name])
		if err != nil {
			return nil, err
		}
		file.Programs[name] = prog
	}
	return file, nil
}

func validateProgram(name string, raw map[string]any) (Program, error) {
	if err := validateName(name); err != nil {
		return Program{}, err
	}

	cmd, err := validateCmd(name, raw)
	if err != nil {
		return Program{}, err
	}
	numProcs, err := validateNumProcs(name, raw)
	if err != nil {
		return Program{}, err
	}
	umask, err := validateUmask(name, raw)
	if err != nil {
		return Program{}, err
	}
	workingDir, err := validateWorkingDir(name, raw)
	if err != nil {
		return Program{}, err
	}
	autostart, err := validateBool(name, raw, "autostart", true)
	if err != nil {
		return Program{}, err
	}
	autorestart, err := validateAutorestart(name, raw)
	if err != nil {
		return Program{}, err
	}
	exitCodes, err := validateExitCodes(name, raw)
	if err != nil {
		return Program{}, err
	}
	startRetries, err := validateNonNegInt(name, raw, "startretries", 3)
	if err != nil {
		return Program{}, err
	}
	startTime, err := validateNonNegInt(name, raw, "starttime", 1)
	if err != nil {
		return Program{}, err
	}
	stopSignal, err := validateStopSignal(name, raw)
	if err != nil {
		return Program{}, err
	}
	stopTime, err := validateNonNegInt(name, raw, "stoptime", 10)
	if err != nil {
		return Program{}, err
	}
	stdout, err := validateOutputFile(name, raw, "stdout")
	if err != nil {
		return Program{}, err
	}
	stderr, err := validateOutputFile(name, raw, "stderr")
	if err != nil {
		return Program{}, err
	}
	env, err := validateEnv(name, raw)
	if err != nil {
		return Program{}, err
	}

	rawYAML, err := yaml.Marshal(raw)
	if err != nil {
		return Program{}, errf(name, "internal: re-marshaling declaration: %v", err)
	}

	return Program{
		Name:         name,
		Cmd:          cmd,
		NumProcs:     numProcs,
		Umask:        umask,
		WorkingDir:   workingDir,
		AutoStart:    autostart,
		AutoRestart:  autorestart,
		ExitCodes:    exitCodes,
		StartRetries: startRetries,
		StartTime:    startTime,
		StopSignal:   stopSignal,
		StopTime:     stopTime,
		Stdout:       stdout,
		Stderr:       stderr,
		Env:          env,
		RawYAML:      string(rawYAML),
	}, nil
}

func validateName(name string) error {
	if name == "" {
		return errf(name, "'name' is required and must be a non-empty string.")
	}
	if name == "all" {
		return errf(name, "banned name: 'all'.")
	}
	for _, r := range name {
		if r == ':' {
			return errf(name, "':' is not allowed in program names.")
		}
	}
	return nil
}

func validateCmd(name string, raw map[string]any) ([]string, error) {
	v, ok := raw["cmd"]
	if !ok {
		return nil, errf(name, "'cmd' is required and must be a non-empty string.")
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return nil, errf(name, "'cmd' is required and must be a non-empty string.")
	}
	argv, err := shellSplit(s)
	if err != nil {
		return nil, errf(name, "invalid command syntax: %v", err)
	}
	if len(argv) == 0 {
		return nil, errf(name, "'cmd' is required and must be a non-empty string.")
	}
	return argv, nil
}

func validateNumProcs(name string, raw map[string]any) (int, error) {
	n, _, err := intField(raw, "numprocs", 1)
	if err != nil {
		return 0, errf(name, "'numprocs' must be a positive integer.")
	}
	if n < 1 {
		return 0, errf(name, "'numprocs' must be a positive integer.")
	}
	return n, nil
}

func validateUmask(name string, raw map[string]any) (string, error) {
	v, present := raw["umask"]
	umask := "022"
	if present {
		s, ok := v.(string)
		if !ok {
			return "", errf(name, "'umask' must be a string representing an octal value.")
		}
		umask = s
	}
	if umask == "" {
		return "", errf(name, "'umask' cannot be empty.")
	}
	if len(umask) > 3 {
		return "", errf(name, "'umask' must be at most 3 digits long, got '%s'.", umask)
	}
	for _, ch := range umask {
		if ch < '0' || ch > '7' {
			return "", errf(name, "'umask' must contain only digits 0-7, got '%s'.", umask)
		}
	}
	val, err := strconv.ParseInt(umask, 8, 32)
	if err != nil || val < 0 || val > 0o777 {
		return "", errf(name, "'umask' must be between 000 and 777, got '%s'.", umask)
	}
	return umask, nil
}

func validateWorkingDir(name string, raw map[string]any) (string, error) {
	v, present := raw["workingdir"]
	dir := ""
	if present {
		s, ok := v.(string)
		if !ok {
			return "", errf(name, "'workingdir' must be a string.")
		}
		dir = s
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return "", errf(name, "could not determine default workingdir: %v", err)
		}
		dir = wd
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", errf(name, "'workingdir' path '%s' does not exist or is not a directory.", dir)
	}
	probe, err := os.CreateTemp(dir, ".taskmaster-write-check-*")
	if err != nil {
		return "", errf(name, "'workingdir' path '%s' is not writable.", dir)
	}
	probe.Close()
	os.Remove(probe.Name())
	return dir, nil
}

func validateBool(name string, raw map[string]any, key string, def bool) (bool, error) {
	v, present := raw[key]
	if !present {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, errf(name, "'%s' must be a boolean.", key)
	}
	return b, nil
}

func validateAutorestart(name string, raw map[string]any) (Autorestart, error) {
	v, present := raw["autorestart"]
	if !present {
		return AutorestartNever, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", errf(name, "'autorestart' must be one of never, always, unexpected.")
	}
	switch Autorestart(s) {
	case AutorestartNever, AutorestartAlways, AutorestartUnexpected:
		return Autorestart(s), nil
	default:
		return "", errf(name, "'autorestart' must be one of never, always, unexpected, got '%s'.", s)
	}
}

func validateExitCodes(name string, raw map[string]any) ([]int, error) {
	v, present := raw["exitcodes"]
	if !present {
		return []int{0}, nil
	}
	var codes []int
	switch t := v.(type) {
	case int:
		codes = []int{t}
	case []any:
		for _, item := range t {
			n, ok := item.(int)
			if !ok {
				return nil, errf(name, "'exitcodes' must be a list of ints between 0 and 255.")
			}
			codes = append(codes, n)
		}
	default:
		return nil, errf(name, "'exitcodes' must be a list of ints between 0 and 255.")
	}
	for _, c := range codes {
		if c < 0 || c > 255 {
			return nil, errf(name, "'exitcodes' must be a list of ints between 0 and 255.")
		}
	}
	return codes, nil
}

func validateNonNegInt(name string, raw map[string]any, key string, def int) (int, error) {
	n, present, err := intField(raw, key, def)
	if err != nil {
		return 0, errf(name, "'%s' must be a non-negative integer.", key)
	}
	if !present {
		n = def
	}
	if n < 0 {
		return 0, errf(name, "'%s' must be a non-negative integer.", key)
	}
	return n, nil
}

func validateStopSignal(name string, raw map[string]any) (string, error) {
	v, present := raw["stopsignal"]
	if !present {
		return SigTERM, nil
	}
	s, ok := v.(string)
	if !ok || !validStopSignals[s] {
		return "", errf(name, "'stopsignal' must be a valid signal name like TERM, INT, USR1 (got %v).", v)
	}
	return s, nil
}

func validateOutputFile(name string, raw map[string]any, key string) (string, error) {
	v, present := raw[key]
	if !present {
		return "", nil
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", nil
	}
	f, err := os.OpenFile(s, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return "", errf(name, "'%s' path '%s' is not writable or cannot be created: %v", key, s, err)
	}
	f.Close()
	return s, nil
}

func validateEnv(name string, raw map[string]any) (map[string]string, error) {
	v, present := raw["env"]
	result := map[string]string{}
	if !present {
		return mergeWithProcessEnv(result), nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, errf(name, "'env' must be a dictionary of string:string.")
	}
	for k, val := range m {
		s, ok := val.(string)
		if !ok {
			return nil, errf(name, "'env' must be a dictionary of string:string.")
		}
		result[k] = s
	}
	return mergeWithProcessEnv(result), nil
}

func mergeWithProcessEnv(declared map[string]string) map[string]string {
	merged := map[string]string{}
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				merged[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	for k, v := range declared {
		merged[k] = v
	}
	return merged
}

func intField(raw map[string]any, key string, def int) (int, bool, error) {
	v, present := raw[key]
	if !present {
		return def, false, nil
	}
	n, ok := v.(int)
	if !ok {
		return 0, true, fmt.Errorf("%s is not an int", key)
	}
	return n, true, nil
}
