// authctl is an operator tool for access tokens and credentials.
//
//	authctl inspect TOKEN         print the unverified claim payload
//	authctl verify TOKEN          verify with JWT_SIGNING_KEY / JWT_ISSUER / JWT_AUDIENCE
//	authctl hash-password [PW]    bcrypt a password (read from stdin when omitted)
//	authctl gen-key [--bytes N]   print a random signing key
package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"

	"github.com/bosted-app/backend/internal/config"
	"github.com/bosted-app/backend/internal/service"
	"github.com/bosted-app/backend/internal/token"
)

const usage = "usage: authctl inspect|verify|hash-password|gen-key [flags] [args]"

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, loadSignerConfig); err != nil {
		fmt.Fprintf(os.Stderr, "authctl: %v\n", err)
		os.Exit(1)
	}
}

func loadSignerConfig() (token.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return token.Config{}, err
	}
	return token.Config{Key: cfg.Auth.SigningKey, Issuer: cfg.Auth.Issuer, Audience: cfg.Auth.Audience}, nil
}

func run(args []string, stdin io.Reader, stdout io.Writer, signerConfig func() (token.Config, error)) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	command, rest := args[0], args[1:]

	flags := pflag.NewFlagSet("authctl "+command, pflag.ContinueOnError)
	keyBytes := flags.Int("bytes", 32, "key length in bytes (gen-key)")
	cost := flags.Int("cost", bcrypt.DefaultCost, "bcrypt cost (hash-password)")
	if err := flags.Parse(rest); err != nil {
		return err
	}

	switch command {
	case "inspect":
		raw, err := singleArg(flags)
		if err != nil {
			return err
		}
		payload, err := token.DecodePayload(raw)
		if err != nil {
			return err
		}
		return printJSON(stdout, payload)

	case "verify":
		raw, err := singleArg(flags)
		if err != nil {
			return err
		}
		cfg, err := signerConfig()
		if err != nil {
			return err
		}
		signer, err := token.NewSigner(cfg)
		if err != nil {
			return err
		}
		claims, err := signer.Verify(raw)
		if err != nil {
			return err
		}
		return printJSON(stdout, map[string]any{
			"sub":      claims.UserID,
			"email":    claims.Email,
			"role":     claims.Role.String(),
			"bostedId": claims.TenantID,
		})

	case "hash-password":
		password := strings.Join(flags.Args(), " ")
		if password == "" {
			line, err := bufio.NewReader(stdin).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			password = strings.TrimRight(line, "\r\n")
		}
		if password == "" {
			return errors.New("password is required")
		}
		hash, err := service.HashPassword(password, *cost)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, hash)
		return err

	case "gen-key":
		if *keyBytes < token.MinKeyBytes {
			return fmt.Errorf("--bytes must be at least %d", token.MinKeyBytes)
		}
		key := make([]byte, *keyBytes)
		if _, err := rand.Read(key); err != nil {
			return err
		}
		_, err := fmt.Fprintln(stdout, "base64:"+base64.StdEncoding.EncodeToString(key))
		return err

	default:
		return fmt.Errorf("unknown command %q\n%s", command, usage)
	}
}

func singleArg(flags *pflag.FlagSet) (string, error) {
	if flags.NArg() != 1 {
		return "", errors.New("expected exactly one token argument")
	}
	return strings.TrimSpace(flags.Arg(0)), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
