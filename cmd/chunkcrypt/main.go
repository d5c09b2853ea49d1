package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"chunkcrypt"
	"chunkcrypt/crypt"
	"chunkcrypt/pkg/diskspace"
	"chunkcrypt/vault"
)

// spare room for per-chunk tags and container framing when sizing the
// destination preflight
const overheadSlack = 1 << 20

func main() {
	var (
		encryptFlag   = flag.Bool("e", false, "encrypt the input file")
		decryptFlag   = flag.Bool("d", false, "decrypt the input file")
		inPath        = flag.String("in", "", "input file path")
		outPath       = flag.String("out", "", "output file path")
		keyFile       = flag.String("keyfile", "", "raw key material file (key followed by base nonce)")
		vaultDir      = flag.String("vault", "", "key vault directory")
		keyName       = flag.String("key", "default", "key name inside the vault")
		chunkSize     = flag.Int("chunk-size", chunkcrypt.DefaultChunkSize, "plaintext bytes per chunk")
		workers       = flag.Int("workers", 0, "cipher workers, 0 means all CPUs")
		containerFlag = flag.Bool("container", false, "write the framed container format")
		zstdFlag      = flag.Bool("zstd", false, "compress chunks with zstd (implies -container)")
		listKeys      = flag.Bool("list-keys", false, "list keys stored in the vault and exit")
		verbose       = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	if *listKeys {
		if *vaultDir == "" {
			logger.Fatal("-list-keys requires -vault")
		}
		if err := printVaultKeys(*vaultDir, logger); err != nil {
			logger.WithError(err).Fatal("listing keys failed")
		}
		return
	}

	op, err := resolveOperation(*encryptFlag, *decryptFlag)
	if err != nil {
		logger.Fatal(err)
	}
	if *inPath == "" || *outPath == "" {
		logger.Fatal("-in and -out are required")
	}

	km, cleanup, err := resolveKeyMaterial(op, *keyFile, *vaultDir, *keyName, logger)
	if err != nil {
		logger.WithError(err).Fatal("resolving key material failed")
	}
	defer cleanup()
	defer km.Zero()

	info, err := os.Stat(*inPath)
	if err != nil {
		logger.WithError(err).Fatal("input file is not readable")
	}
	if err := diskspace.EnsureFree(*outPath, uint64(info.Size())+overheadSlack, logger); err != nil {
		logger.WithError(err).Fatal("destination preflight failed")
	}

	cfg := chunkcrypt.Config{
		ChunkSize: *chunkSize,
		Workers:   *workers,
		Container: *containerFlag || *zstdFlag,
		Compress:  *zstdFlag,
		Logger:    logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runFile(ctx, op, *inPath, *outPath, km, cfg); err != nil {
		// The destination is incomplete or untrusted; do not leave it behind.
		os.Remove(*outPath)
		logger.WithError(err).Fatal("run failed")
	}

	logger.WithFields(logrus.Fields{
		"operation": op.String(),
		"input":     *inPath,
		"output":    *outPath,
	}).Info("run complete")
}

func runFile(ctx context.Context, op chunkcrypt.Operation, inPath, outPath string, km *crypt.KeyMaterial, cfg chunkcrypt.Config) error {
	in, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("opening input: %w", err)
	}
	defer in.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}

	w := bufio.NewWriter(out)
	if err := chunkcrypt.Run(ctx, op, bufio.NewReader(in), w, km, cfg); err != nil {
		out.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		out.Close()
		return fmt.Errorf("flushing output: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing output: %w", err)
	}
	return nil
}

// resolveOperation prefers the flags and falls back to an interactive prompt
// when the process is attached to a terminal.
func resolveOperation(encrypt, decrypt bool) (chunkcrypt.Operation, error) {
	switch {
	case encrypt && decrypt:
		return 0, fmt.Errorf("-e and -d are mutually exclusive")
	case encrypt:
		return chunkcrypt.Encrypt, nil
	case decrypt:
		return chunkcrypt.Decrypt, nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return 0, fmt.Errorf("operation required: pass -e or -d")
	}

	fmt.Fprint(os.Stderr, "Operation, (e)ncrypt or (d)ecrypt: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return 0, fmt.Errorf("reading operation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "e", "encrypt":
		return chunkcrypt.Encrypt, nil
	case "d", "decrypt":
		return chunkcrypt.Decrypt, nil
	default:
		return 0, fmt.Errorf("unknown operation %q", strings.TrimSpace(line))
	}
}

// resolveKeyMaterial loads the key from a key file or the vault. When
// encrypting with a key that does not exist yet, fresh material is generated
// and persisted before the run starts.
func resolveKeyMaterial(op chunkcrypt.Operation, keyFile, vaultDir, keyName string, logger *logrus.Logger) (*crypt.KeyMaterial, func(), error) {
	noop := func() {}

	switch {
	case keyFile != "" && vaultDir != "":
		return nil, noop, fmt.Errorf("-keyfile and -vault are mutually exclusive")

	case keyFile != "":
		km, err := crypt.LoadFile(keyFile)
		if err == nil {
			return km, noop, nil
		}
		if op == chunkcrypt.Decrypt || !errors.Is(err, os.ErrNotExist) {
			return nil, noop, err
		}
		km, err = crypt.New()
		if err != nil {
			return nil, noop, err
		}
		if err := km.PersistFile(keyFile); err != nil {
			return nil, noop, err
		}
		logger.WithField("keyfile", keyFile).Info("generated new key material")
		return km, noop, nil

	case vaultDir != "":
		v, err := vault.Open(vaultDir, logger)
		if err != nil {
			return nil, noop, err
		}
		cleanup := func() { v.Close() }
		km, err := v.Get(keyName)
		if err == nil {
			return km, cleanup, nil
		}
		if op == chunkcrypt.Decrypt || !errors.Is(err, vault.ErrNotFound) {
			v.Close()
			return nil, noop, err
		}
		km, err = crypt.New()
		if err != nil {
			v.Close()
			return nil, noop, err
		}
		if err := v.Put(keyName, km); err != nil {
			v.Close()
			return nil, noop, err
		}
		logger.WithField("key", keyName).Info("generated new key material in vault")
		return km, cleanup, nil

	default:
		return nil, noop, fmt.Errorf("a key source is required: pass -keyfile or -vault")
	}
}

func printVaultKeys(dir string, logger *logrus.Logger) error {
	v, err := vault.Open(dir, logger)
	if err != nil {
		return err
	}
	defer v.Close()

	infos, err := v.List()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("vault is empty")
		return nil
	}
	for _, info := range infos {
		fmt.Printf("%s\tcreated %d\n", info.Name, info.Created)
	}
	return nil
}
