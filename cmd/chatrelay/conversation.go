package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/pflag"

	"chatrelay/internal/app"
	"chatrelay/internal/config"
	"chatrelay/internal/database"
	"chatrelay/internal/directory"
)

const conversationUsage = `usage:
  chatrelay conversation create --owner ID [--id ID] [--title TEXT] [--participants a,b]
  chatrelay conversation add --id ID --user ID
  chatrelay conversation show --id ID`

// runConversation administers the SQLite conversation directory used when
// directory.mode is "database"
func runConversation(args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New(conversationUsage)
	}
	verb, args := args[0], args[1:]

	flags := pflag.NewFlagSet("conversation "+verb, pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to a YAML/JSON config file")
	id := flags.String("id", "", "conversation id")
	title := flags.String("title", "", "conversation title")
	owner := flags.String("owner", "", "owner user id")
	participants := flags.StringSlice("participants", nil, "participant user ids")
	user := flags.String("user", "", "user id to add")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	db, err := database.NewManager(app.DatabaseConfig(cfg), nil)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	dir := directory.New(db, 0, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch verb {
	case "create":
		conv, err := dir.CreateConversation(ctx, *id, *title, *owner, *participants)
		if err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
		return printJSON(out, conv)
	case "add":
		if *id == "" || *user == "" {
			return errors.New("--id and --user are required")
		}
		if err := dir.AddParticipant(ctx, *id, *user); err != nil {
			return fmt.Errorf("add participant: %w", err)
		}
		conv, err := dir.Conversation(ctx, *id)
		if err != nil {
			return err
		}
		return printJSON(out, conv)
	case "show":
		conv, err := dir.Conversation(ctx, *id)
		if err != nil {
			return err
		}
		return printJSON(out, conv)
	default:
		return fmt.Errorf("unknown conversation command %q\n%s", verb, conversationUsage)
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
