// Package cli implements the synthesize command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/novus-synthesis/internal/auth"
	"github.com/wuwenbin0122/novus-synthesis/internal/synthesis"
	"github.com/wuwenbin0122/novus-synthesis/internal/utils"
)

type cmdSend struct {
	Message        string `arg:"" help:"Message to send, passed through verbatim."`
	ConversationID string `name:"conversation" short:"c" help:"Conversation id of a prior exchange. Sent as null when omitted."`
	Endpoint       string `help:"Override SYNTHESIS_ENDPOINT."`
}

type cmdToken struct {
	Subject string        `arg:"" help:"Subject the gateway token is issued for."`
	TTL     time.Duration `name:"ttl" help:"Override JWT_TTL."`
}

type cliArgs struct {
	Send    cmdSend  `cmd:"" help:"Send a message to the synthesis endpoint and print the JSON reply."`
	Token   cmdToken `cmd:"" help:"Issue a bearer token for the synthesis gateway (requires JWT_SECRET)."`
	Verbose bool     `short:"v" help:"Log debug information on stderr."`
}

type CliConfig struct {
	Name        string
	Description string
	Exit        func(int)
	Stdout      io.Writer
	Stderr      io.Writer
	// Lookup resolves environment variables; os.LookupEnv when nil.
	Lookup func(string) (string, bool)
}

func NewCliConfig() *CliConfig {
	return &CliConfig{
		Name:        "synthesize",
		Description: "Send chat messages to the local synthesis service.",
		Exit:        func(i int) { os.Exit(i) },
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		Lookup:      os.LookupEnv,
	}
}

// Cli parses args and runs the selected command. It returns the process exit
// code alongside any error.
func Cli(args []string, config *CliConfig) (int, error) {
	var cli cliArgs

	parser, err := kong.New(&cli,
		kong.Name(config.Name),
		kong.Description(config.Description),
		kong.Exit(config.Exit),
		kong.Writers(config.Stdout, config.Stderr),
	)
	if err != nil {
		return 1, err
	}

	ctx, err := parser.Parse(args)
	if err != nil {
		return 2, err
	}

	cfg, err := utils.LoadConfigFrom(config.Lookup)
	if err != nil {
		return 1, err
	}

	logCfg := cfg.Logging
	if cli.Verbose {
		logCfg.Level = "debug"
	}
	logger := utils.NewWriterLogger(logCfg, config.Stderr)
	defer logger.Sync()

	switch ctx.Command() {
	case "send <message>":
		var conversationID *string
		if flagSet(ctx, "conversation") {
			conversationID = &cli.Send.ConversationID
		}
		err = runSend(cli.Send, conversationID, cfg, logger.Sugar(), config.Stdout)
	case "token <subject>":
		err = runToken(cli.Token, cfg, config.Stdout)
	default:
		err = fmt.Errorf("unknown command %q", ctx.Command())
	}
	if err != nil {
		return 1, err
	}

	return 0, nil
}

// flagSet reports whether the named flag was given on the command line, even
// with an empty value.
func flagSet(ctx *kong.Context, name string) bool {
	for _, flag := range ctx.Flags() {
		if flag.Name == name {
			return flag.Set
		}
	}
	return false
}

func runSend(cmd cmdSend, conversationID *string, cfg *utils.Config, logger *zap.SugaredLogger, out io.Writer) error {
	synthCfg := cfg.Synthesis
	if endpoint := strings.TrimSpace(cmd.Endpoint); endpoint != "" {
		synthCfg.Endpoint = endpoint
	}

	client := synthesis.NewClient(synthCfg, logger)
	result, err := client.Send(context.Background(), cmd.Message, conversationID)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func runToken(cmd cmdToken, cfg *utils.Config, out io.Writer) error {
	ttl := cfg.JWTTTL
	if cmd.TTL > 0 {
		ttl = cmd.TTL
	}

	svc, err := auth.NewService(cfg.JWTSecret, ttl)
	if err != nil {
		return err
	}

	token, expiresAt, err := svc.IssueToken(cmd.Subject)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(out, "%s\nexpires %s\n", token, expiresAt.Format(time.RFC3339))
	return err
}
