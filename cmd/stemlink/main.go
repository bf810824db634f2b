// stemlink: host-side upload tool for brainstem.
//
// stemlink keeps a local store of every image uploaded to each program slot
// and uses it to ship incremental patches: a rebuild goes over the link as a
// compressed diff against the stored base instead of a full image.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/torquelabs/brainstem/internal/types"
	"github.com/torquelabs/brainstem/pkg/imagestore"
	"github.com/torquelabs/brainstem/pkg/link"
)

// Version information
var (
	Version = "0.1.0"
)

// Configuration flags
var (
	endpoint  = flag.String("endpoint", "127.0.0.1:7641", "Brain link endpoint")
	token     = flag.String("token", "", "Upload link shared secret")
	storeDir  = flag.String("store-dir", defaultStoreDir(), "Local image store directory")
	slotNum   = flag.Int("slot", 1, "Program slot (1-8)")
	progName  = flag.String("name", "", "Program name (defaults to the image file name)")
	imageFile = flag.String("image", "", "Program image file to upload")
	usePatch  = flag.Bool("patch", false, "Ship an incremental patch instead of a full image")
	doPing    = flag.Bool("ping", false, "Ping the brain and exit")
	doList    = flag.Bool("list", false, "List locally stored slot images and exit")
	timeout   = flag.Duration("timeout", 30*time.Second, "Per-operation deadline")
)

func defaultStoreDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stemlink"
	}
	return filepath.Join(home, ".stemlink")
}

func main() {
	flag.Parse()
	log.SetFlags(0)

	if err := run(); err != nil {
		log.Fatalf("stemlink: %v", err)
	}
}

func run() error {
	store, err := imagestore.Open(imagestore.DefaultConfig(*storeDir))
	if err != nil {
		return fmt.Errorf("open image store: %w", err)
	}
	defer store.Close()

	if *doList {
		return list(store)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cfg := link.DefaultClientConfig(*endpoint)
	cfg.Token = *token
	client, err := link.Dial(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	if *doPing {
		version, err := client.Ping(ctx)
		if err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		log.Printf("%s at %s", version, *endpoint)
		return nil
	}

	if *imageFile == "" {
		return fmt.Errorf("no -image given (or use -ping / -list)")
	}
	slot, err := types.SlotFromInt(*slotNum)
	if err != nil {
		return err
	}
	name := *progName
	if name == "" {
		name = filepath.Base(*imageFile)
	}

	image, err := os.ReadFile(*imageFile)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	if *usePatch {
		return shipPatch(ctx, client, store, slot, name, image)
	}
	return shipFull(ctx, client, store, slot, name, image)
}

func shipFull(ctx context.Context, client *link.Client, store *imagestore.Store,
	slot types.Slot, name string, image []byte) error {
	fp, err := client.Upload(ctx, slot, name, image)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	if fp != types.FingerprintOf(image) {
		return fmt.Errorf("brain acknowledged a different image: %s", fp.Short())
	}
	if _, err := store.Put(slot, name, image); err != nil {
		return fmt.Errorf("record upload: %w", err)
	}
	log.Printf("Uploaded %q to %s: %d bytes (%s)", name, slot, len(image), fp.Short())
	return nil
}

func shipPatch(ctx context.Context, client *link.Client, store *imagestore.Store,
	slot types.Slot, name string, image []byte) error {
	payload, desc, err := store.BuildPatch(slot, image)
	if err != nil {
		return fmt.Errorf("build patch (try a full upload first): %w", err)
	}
	if err := client.StagePatch(ctx, desc, payload); err != nil {
		return fmt.Errorf("stage patch: %w", err)
	}
	// The brain reconstructs the new image from its staged snapshot; the
	// store's base moves forward to match.
	if _, err := store.Put(slot, name, image); err != nil {
		return fmt.Errorf("record patch: %w", err)
	}
	log.Printf("Patched %q in %s: %d-byte payload for a %d-byte image (%.1f%%)",
		name, slot, len(payload), len(image),
		100*float64(len(payload))/float64(len(image)))
	return nil
}

func list(store *imagestore.Store) error {
	infos, err := store.List()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		log.Printf("No stored images")
		return nil
	}
	for _, info := range infos {
		log.Printf("%s  %-20q %8d bytes  %s  %s",
			info.Slot, info.Name, info.Size, info.Fingerprint.Short(),
			time.Unix(info.UploadedAt, 0).Format(time.RFC3339))
	}
	return nil
}
