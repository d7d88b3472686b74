// Command gen-token signs HS256 tokens accepted by an API running with
// AUTH0_TEST_MODE, for local boards and load runs.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"taskmate-sync/api"
)

type issued struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

func main() {
	var (
		count  = flag.Int("count", 1, "number of numbered users to sign for when no user ids are given")
		prefix = flag.String("prefix", "test-user", "user id prefix for numbered users")
		start  = flag.Int("start", 1, "first number for numbered users")
		ttl    = flag.Duration("ttl", time.Hour, "token lifetime")
		output = flag.String("output", "", "write [{userId, token}] JSON to this file")
		env    = flag.Bool("env", false, "print BOARDSYNC_TOKEN=<token> for the first user")
	)
	flag.Parse()

	secret := os.Getenv("TEST_JWT_SECRET")
	if secret == "" {
		log.Fatal("TEST_JWT_SECRET must be set")
	}
	users, err := userIDs(flag.Args(), *prefix, *start, *count)
	if err != nil {
		log.Fatal(err)
	}

	out := make([]issued, 0, len(users))
	for _, u := range users {
		tok, err := api.SignTestToken([]byte(secret), u, *ttl)
		if err != nil {
			log.WithError(err).WithField("userId", u).Fatal("sign token")
		}
		out = append(out, issued{UserID: u, Token: tok})
	}

	if *output != "" {
		if err := writeJSON(*output, out); err != nil {
			log.WithError(err).Fatal("write tokens")
		}
		log.WithFields(log.Fields{"file": *output, "tokens": len(out)}).Info("tokens written")
	}
	if *env {
		fmt.Printf("BOARDSYNC_TOKEN=%s\n", out[0].Token)
		return
	}
	fmt.Print(out[0].Token)
}

// userIDs returns the explicit ids when given, else count numbered ids.
func userIDs(explicit []string, prefix string, start, count int) ([]string, error) {
	if len(explicit) > 0 {
		return explicit, nil
	}
	if count < 1 {
		return nil, errors.New("count must be at least 1")
	}
	if count == 1 {
		return []string{prefix}, nil
	}
	if start < 1 {
		return nil, errors.New("start must be at least 1")
	}
	ids := make([]string, count)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%d", prefix, start+i)
	}
	return ids, nil
}

func writeJSON(path string, v any) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
