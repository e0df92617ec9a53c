package guestcore

import (
	"fmt"
	"os"
	"strings"
)

const (
	DEFAULT_HEAP_SIZE  = 4 * 1024 * 1024
	DEFAULT_STACK_SIZE = 0x10000
	DEFAULT_BATCH_SIZE = 100000 // Instructions per interpreter batch between must-end checks
	STACK_SLACK        = 16     // Bytes reserved above the initial stack pointer
	NATIVE_STACK_SIZE  = 0x4000 // Scratch stack for secondary ISA calls

	ENV_DEBUG = "GUESTCORE_DEBUG"
)

// Config holds the per-launch tunables of the guest core.
type Config struct {
	HeapSize  uint32
	StackSize uint32
	BatchSize int
	LogLevel  LogLevel

	// StrictRelocations fails the load when any relocation chain is not
	// fully applied instead of logging and continuing.
	StrictRelocations bool

	// ZeroWordXrefs stores zero for 16-bit data xref entries instead of the
	// rebased pointer. Some historical loaders did this.
	ZeroWordXrefs bool
}

// DefaultConfig returns the configuration used when nothing is overridden.
// The log level honours GUESTCORE_DEBUG.
func DefaultConfig() Config {
	cfg := Config{
		HeapSize:  DEFAULT_HEAP_SIZE,
		StackSize: DEFAULT_STACK_SIZE,
		BatchSize: DEFAULT_BATCH_SIZE,
		LogLevel:  LogInfo,
	}
	if level, ok := levelFromEnv(); ok {
		cfg.LogLevel = level
	}
	return cfg
}

// Validate rejects configurations the core cannot run with.
func (c Config) Validate() error {
	if c.HeapSize < 64*1024 {
		return fmt.Errorf("heap size %d too small (min 65536)", c.HeapSize)
	}
	if c.HeapSize&3 != 0 {
		return fmt.Errorf("heap size 0x%X not word aligned", c.HeapSize)
	}
	// The trap band must not run into the register window.
	if uint64(c.HeapSize)+TRAPS_SIZE > REG_WINDOW_BASE {
		return fmt.Errorf("heap size 0x%X overlaps the register window", c.HeapSize)
	}
	if c.StackSize < 256 || c.StackSize >= c.HeapSize {
		return fmt.Errorf("stack size %d out of range", c.StackSize)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	return nil
}

func levelFromEnv() (LogLevel, bool) {
	v := strings.TrimSpace(os.Getenv(ENV_DEBUG))
	if v == "" {
		return 0, false
	}
	return ParseLogLevel(v)
}
