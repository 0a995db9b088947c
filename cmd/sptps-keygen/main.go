// Command sptps-keygen generates a long-term Ed25519 identity for SPTPS:
// a private key file to hand to a Session's Params.MyKey, and a public key
// file to distribute to peers for Params.HisKey.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/floegence/sptps/internal/version"
	"github.com/floegence/sptps/keys"
)

var (
	buildVersion = "dev"
	commit       = "unknown"
	date         = "unknown"
)

type ready struct {
	Version        string `json:"version"`
	Commit         string `json:"commit"`
	Date           string `json:"date"`
	KID            string `json:"kid"`
	PrivateKeyFile string `json:"private_key_file"`
	PublicKeyFile  string `json:"public_key_file"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	showVersion := false

	kid := envString("SPTPS_KID", "k1")
	outDir := envString("SPTPS_OUT_DIR", ".")
	privFile := envString("SPTPS_PRIVATE_KEY_FILE", "")
	pubFile := envString("SPTPS_PUBLIC_KEY_FILE", "")
	var overwrite bool

	fs := flag.NewFlagSet("sptps-keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	fs.StringVar(&kid, "kid", kid, "identity key id (kid) (env: SPTPS_KID)")
	fs.StringVar(&outDir, "out-dir", outDir, "output directory for generated files (env: SPTPS_OUT_DIR)")
	fs.StringVar(&privFile, "private-key-file", privFile, "output file for the private key (default: <out-dir>/<kid>_private.json) (env: SPTPS_PRIVATE_KEY_FILE)")
	fs.StringVar(&pubFile, "public-key-file", pubFile, "output file for the public key (default: <out-dir>/<kid>_public.json) (env: SPTPS_PUBLIC_KEY_FILE)")
	fs.BoolVar(&overwrite, "overwrite", false, "overwrite existing files")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if showVersion {
		_, _ = fmt.Fprintln(stdout, version.String(buildVersion, commit, date))
		return 0
	}

	usageErr := func(msg string) int {
		if msg != "" {
			fmt.Fprintln(stderr, msg)
		}
		fs.Usage()
		return 2
	}

	kid = strings.TrimSpace(kid)
	if kid == "" {
		return usageErr("missing --kid")
	}
	outDir = strings.TrimSpace(outDir)
	if outDir == "" {
		outDir = "."
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	if privFile == "" {
		privFile = filepath.Join(outDir, kid+"_private.json")
	} else if !filepath.IsAbs(privFile) {
		privFile = filepath.Join(outDir, privFile)
	}
	if pubFile == "" {
		pubFile = filepath.Join(outDir, kid+"_public.json")
	} else if !filepath.IsAbs(pubFile) {
		pubFile = filepath.Join(outDir, pubFile)
	}

	if !overwrite {
		if fileExists(privFile) {
			fmt.Fprintf(stderr, "refusing to overwrite existing file: %s (use --overwrite)\n", privFile)
			return 2
		}
		if fileExists(pubFile) {
			fmt.Fprintf(stderr, "refusing to overwrite existing file: %s (use --overwrite)\n", pubFile)
			return 2
		}
	}

	id, err := keys.NewRandom(kid)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if err := id.WritePrivateKeyFile(privFile, overwrite); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	pubJSON, err := id.ExportPublicKeyFile()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if err := os.WriteFile(pubFile, pubJSON, 0o644); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	privOut := absOr(privFile)
	pubOut := absOr(pubFile)
	_ = json.NewEncoder(stdout).Encode(ready{
		Version:        buildVersion,
		Commit:         commit,
		Date:           date,
		KID:            kid,
		PrivateKeyFile: privOut,
		PublicKeyFile:  pubOut,
	})
	return 0
}

func absOr(path string) string {
	if path == "" {
		return ""
	}
	a, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return a
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func envString(key string, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
