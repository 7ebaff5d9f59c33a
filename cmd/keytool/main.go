// Command keytool checks and repairs the service-account private key used by
// the spreadsheet store.
package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/PhuccNguyen/hhsvhbvn/internal/domain"
	"github.com/PhuccNguyen/hhsvhbvn/internal/repository"
	"github.com/PhuccNguyen/hhsvhbvn/pkg/credentials"
	"github.com/PhuccNguyen/hhsvhbvn/pkg/logger"
	"github.com/PhuccNguyen/hhsvhbvn/pkg/retry"
)

const usage = `Usage: go run ./cmd/keytool <command>

Commands:
  check        resolve credentials from the environment and report problems
  fix [file]   re-wrap a private key (from file, or the environment) and print
               it together with its GOOGLE_PRIVATE_KEY_B64 value
  ping         open the spreadsheet with the resolved credentials`

var errUsage = errors.New("invalid usage")

func main() {
	for _, file := range []string{".env.local", ".env"} {
		_ = godotenv.Load(file)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, usage)
			os.Exit(2)
		}
		log.Fatalf("❌ %v", err)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	switch args[0] {
	case "check":
		return check(out, credentials.SourceFromEnv())
	case "fix":
		raw, err := readKey(args[1:], credentials.SourceFromEnv())
		if err != nil {
			return err
		}
		return fix(out, raw)
	case "ping":
		return ping(ctx, out, credentials.NewSourceProvider(credentials.SourceFromEnv()))
	default:
		return errUsage
	}
}

func check(out io.Writer, src credentials.Source) error {
	account, err := src.Resolve()
	if err != nil {
		return describe(err)
	}
	fmt.Fprintf(out, "✅ Credentials OK\n")
	fmt.Fprintf(out, "   project:     %s\n", account.ProjectID)
	fmt.Fprintf(out, "   client:      %s\n", account.ClientEmail)
	fmt.Fprintf(out, "   spreadsheet: %s\n", account.SpreadsheetID)
	fmt.Fprintf(out, "   key lines:   %d\n", strings.Count(account.PrivateKeyPEM, "\n"))
	return nil
}

// readKey takes the key from a file argument, else from the environment
func readKey(args []string, src credentials.Source) (string, error) {
	if len(args) > 0 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("failed to read key file: %w", err)
		}
		return string(data), nil
	}
	if src.PrivateKeyB64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(src.PrivateKeyB64)
		if err != nil {
			return "", fmt.Errorf("%w: %v", credentials.ErrDecodeFailure, err)
		}
		return string(decoded), nil
	}
	if src.PrivateKey != "" {
		return strings.ReplaceAll(src.PrivateKey, `\n`, "\n"), nil
	}
	return "", fmt.Errorf("%w: %s or %s", credentials.ErrMissingVariable, credentials.EnvPrivateKeyB64, credentials.EnvPrivateKey)
}

func fix(out io.Writer, raw string) error {
	formatted, err := credentials.FormatPrivateKey(raw)
	if err != nil {
		return describe(err)
	}
	fmt.Fprintf(out, "✅ Key re-wrapped into %d lines\n\n", strings.Count(formatted, "\n"))
	fmt.Fprint(out, formatted)
	fmt.Fprintf(out, "\n%s=%s\n", credentials.EnvPrivateKeyB64, base64.StdEncoding.EncodeToString([]byte(formatted)))
	return nil
}

func ping(ctx context.Context, out io.Writer, provider credentials.Provider) error {
	store := repository.NewSheetsStore(repository.SheetsStoreConfig{
		Credentials: provider,
		Catalog:     domain.DefaultCatalog(),
		Retry:       retry.Policy{Attempts: 1},
		Logger:      logger.NewNop(),
		Endpoint:    os.Getenv("SHEETS_ENDPOINT"),
	})

	res := store.TestConnection(ctx)
	if !res.Success {
		return fmt.Errorf("connection failed: %s", res.Message)
	}
	fmt.Fprintf(out, "✅ %s\n", res.Message)
	return nil
}

// describe adds an operator hint to credential errors
func describe(err error) error {
	switch {
	case errors.Is(err, credentials.ErrMissingVariable):
		return fmt.Errorf("%w (set it in .env.local or the deployment environment)", err)
	case errors.Is(err, credentials.ErrDecodeFailure):
		return fmt.Errorf("%w (re-encode the key file with `base64 -w0`)", err)
	case errors.Is(err, credentials.ErrInvalidPEM):
		return fmt.Errorf("%w (run `keytool fix <key-file>` on the JSON key's private_key value)", err)
	}
	return err
}
