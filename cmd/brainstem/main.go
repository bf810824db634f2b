// brainstem: brain-side program substrate simulator.
//
// This is the main entry point for brainstem, the lowest layer of the robot
// program runtime: it builds the brain's fixed memory layout, runs the boot
// sequence (stack, patch staging, handoff), serves the upload link, and
// routes every fatal program error through the abort handler.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/torquelabs/brainstem/internal/types"
	"github.com/torquelabs/brainstem/pkg/abort"
	"github.com/torquelabs/brainstem/pkg/boot"
	"github.com/torquelabs/brainstem/pkg/display"
	"github.com/torquelabs/brainstem/pkg/link"
	"github.com/torquelabs/brainstem/pkg/mem"
	"github.com/torquelabs/brainstem/pkg/patch"
	"github.com/torquelabs/brainstem/pkg/sdfs"
	"github.com/torquelabs/brainstem/pkg/trace"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

// Configuration flags
var (
	dataDir       = flag.String("data-dir", "/var/lib/brainstem", "Data directory for the SD-card volume")
	slot          = flag.Int("slot", 1, "Program slot to boot (1-8)")
	imagePath     = flag.String("image", "", "Program image file to load into the slot before boot")
	displayPanics = flag.Bool("display-panics", true, "Render panics on the brain screen")
	backtraces    = flag.Bool("backtraces", true, "Capture backtraces in panic reports")
	linkAddr      = flag.String("link-addr", ":7641", "Upload link listen address")
	linkToken     = flag.String("link-token", "", "Upload link shared secret (empty disables auth)")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("brainstem %s (%s)\n", Version, GitCommit)
		os.Exit(0)
	}

	// Setup logging
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("Starting brainstem %s", Version)

	if err := run(); err != nil {
		log.Fatalf("Fatal: %v", err)
	}
}

// hostEnv is the host firmware surface: real process termination.
type hostEnv struct{}

func (hostEnv) Exit(code int) {
	os.Exit(code)
}

func run() error {
	bootSlot, err := types.SlotFromInt(*slot)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	card, err := sdfs.Mount(sdfs.Config{Path: filepath.Join(*dataDir, "card.db")})
	if err != nil {
		return fmt.Errorf("mount card: %w", err)
	}
	defer card.Close()

	if *imagePath != "" {
		img, err := os.ReadFile(*imagePath)
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
		if err := card.WriteFile(slotFile(bootSlot), img); err != nil {
			return fmt.Errorf("install image: %w", err)
		}
		log.Printf("Installed %d-byte image into %s (%s)",
			len(img), bootSlot, types.FingerprintOf(img).Short())
	}

	as, err := mem.NewAddressSpace(types.DefaultLayout())
	if err != nil {
		return fmt.Errorf("build address space: %w", err)
	}

	image, err := card.ReadFile(slotFile(bootSlot))
	if err != nil {
		return fmt.Errorf("load %s: %w", bootSlot, err)
	}
	if uint32(len(image)) > types.ImageMaxSize {
		return fmt.Errorf("image in %s is %d bytes, max %d", bootSlot, len(image), types.ImageMaxSize)
	}
	if err := as.Write(types.ImageBase, image); err != nil {
		return fmt.Errorf("map image: %w", err)
	}
	log.Printf("Booting %s: %d bytes, fingerprint %s",
		bootSlot, len(image), types.FingerprintOf(image).Short())

	// Memory starts empty every run; a patch shipped while the previous
	// process was alive survives only on the card.
	if err := loadPendingPatch(card, as); err != nil {
		return fmt.Errorf("load pending patch: %w", err)
	}

	// Panic surface. The screen exists only if panics may be drawn on it;
	// with display-panics off the substrate must not touch any device.
	abortCfg := abort.DefaultConfig()
	abortCfg.Backtraces = *backtraces
	abortCfg.DisplayPanics = *displayPanics
	if *displayPanics {
		abortCfg.Device = display.NewScreen()
	}
	handler := abort.NewHandler(as, hostEnv{}, abortCfg)

	// Upload link, serving until the process terminates.
	lis, err := net.Listen("tcp", *linkAddr)
	if err != nil {
		return fmt.Errorf("listen on link address: %w", err)
	}
	srv := link.NewServer(&brainService{card: card, as: as}, link.ServerConfig{Token: *linkToken})
	go func() {
		log.Printf("Upload link listening on %s", lis.Addr())
		if err := srv.Serve(lis); err != nil {
			log.Printf("Link server stopped: %v", err)
		}
	}()

	// Boot sequence: this call never returns.
	b := boot.New(as, bootConfig())
	b.Run(hostEnv{}, func() {
		runProgram(handler)
	})
	return nil
}

func bootConfig() boot.Config {
	cfg := boot.DefaultConfig()
	cfg.Log = log.Default()
	return cfg
}

func slotFile(s types.Slot) string {
	return fmt.Sprintf("slot_%d.bin", uint8(s))
}

// patchFile is the card location of a patch waiting for the next boot.
const patchFile = "pending_patch.bin"

// loadPendingPatch restores a patch staged on a previous run into the patch
// region, then clears it from the card: the staging protocol consumes a
// descriptor exactly once, at the boot after it was shipped.
func loadPendingPatch(card *sdfs.Volume, as *mem.AddressSpace) error {
	staged, err := card.ReadFile(patchFile)
	if errors.Is(err, sdfs.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if uint32(len(staged)) > types.PatchMaxSize {
		return fmt.Errorf("staged patch is %d bytes, region holds %d", len(staged), types.PatchMaxSize)
	}
	if err := as.Write(types.PatchBase, staged); err != nil {
		return err
	}
	if err := card.Remove(patchFile); err != nil {
		return err
	}
	log.Printf("Pending patch loaded: %d bytes", len(staged))
	return nil
}

// runProgram stands in for the high-level runtime initializer, which is a
// separate layer. It holds the process open for the upload link and funnels
// any fatal error into the abort handler.
func runProgram(handler *abort.Handler) {
	defer func() {
		if r := recover(); r != nil {
			handler.Panic(trace.Context{}, "%v", r)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Program running; Ctrl-C to power down")
	<-ctx.Done()
	log.Printf("Powering down")
}

// brainService is the brain side of the upload link.
type brainService struct {
	card *sdfs.Volume
	as   *mem.AddressSpace

	// mu serializes link writes into brain memory; the address space has
	// no internal locking.
	mu sync.Mutex
}

func (b *brainService) Version() string {
	return "brainstem " + Version
}

// Upload installs a full image into a slot on the card. It takes effect at
// the next boot of that slot.
func (b *brainService) Upload(_ context.Context, slot types.Slot, name string, image []byte) (types.Fingerprint, error) {
	if err := b.card.WriteFile(slotFile(slot), image); err != nil {
		return types.Fingerprint{}, err
	}
	// A full upload supersedes any patch still waiting for the next boot.
	if err := b.card.Remove(patchFile); err != nil && !errors.Is(err, sdfs.ErrNotFound) {
		return types.Fingerprint{}, err
	}
	fp := types.FingerprintOf(image)
	log.Printf("Upload: %q into %s, %d bytes (%s)", name, slot, len(image), fp.Short())
	return fp, nil
}

// StagePatch writes the descriptor and payload into the patch region and
// onto the card. The staging protocol finds them at the next boot, whether
// that boot belongs to this process or to a restart.
func (b *brainService) StagePatch(_ context.Context, desc patch.Descriptor, payload []byte) error {
	if types.PatchHeaderSize+uint32(len(payload)) > types.PatchMaxSize {
		return fmt.Errorf("payload does not fit the patch region: %d bytes", len(payload))
	}
	staged := append(desc.Encode(), payload...)
	if err := b.card.WriteFile(patchFile, staged); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.as.Write(types.PatchBase, staged); err != nil {
		return err
	}
	log.Printf("Patch staged: %d-byte payload against a %d-byte base", len(payload), desc.BaseLen)
	return nil
}
