package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgellow/gamelogin/internal/config"
	"github.com/dgellow/gamelogin/internal/gameapi"
	"github.com/dgellow/gamelogin/internal/log"
	"github.com/dgellow/gamelogin/internal/loginflow"
)

var BuildVersion = "dev"

func generateDefaultConfig(path string) error {
	defaultConfig := map[string]any{
		"version":     "v0.0.1-DEV_EDITION_EXPECT_CHANGES",
		"baseURL":     gameapi.DefaultBaseURL,
		"schema":      string(gameapi.SchemaUserID),
		"httpTimeout": gameapi.DefaultTimeout.String(),
		"poll": map[string]any{
			"interval":    loginflow.DefaultPollInterval.String(),
			"maxAttempts": 0,
			"timeout":     loginflow.DefaultPollTimeout.String(),
		},
		"achievement": "first_login",
		"skipProfile": false,
	}

	data, err := json.MarshalIndent(defaultConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func validateConfig(path string) error {
	result, err := config.ValidateFile(path)
	if err != nil {
		return fmt.Errorf("error during validation: %w", err)
	}

	fmt.Printf("Validating: %s\n", path)

	printIssues := func(title string, issues []config.ValidationError) {
		if len(issues) == 0 {
			return
		}
		fmt.Printf("\n%s (%d):\n", title, len(issues))
		for _, issue := range issues {
			if issue.Path != "" {
				fmt.Printf("  - %s: %s\n", issue.Path, issue.Message)
			} else {
				fmt.Printf("  - %s\n", issue.Message)
			}
		}
	}
	printIssues("Errors", result.Errors)
	printIssues("Warnings", result.Warnings)

	fmt.Println()
	if len(result.Errors) == 0 && len(result.Warnings) == 0 {
		fmt.Println("Result: PASS")
	} else if len(result.Errors) == 0 {
		fmt.Println("Result: FAIL (warnings present)")
	} else {
		fmt.Println("Result: FAIL")
	}

	if len(result.Errors) > 0 || len(result.Warnings) > 0 {
		return fmt.Errorf("validation failed: %d error(s), %d warning(s)", len(result.Errors), len(result.Warnings))
	}
	return nil
}

// flagOverrides holds the flags that overlay the loaded config. Only flags set
// on the command line are applied.
type flagOverrides struct {
	baseURL     string
	schema      string
	interval    string
	maxAttempts int
	timeout     string
	achievement string
	skipProfile bool
}

func (o *flagOverrides) register(fs *flag.FlagSet) {
	fs.StringVar(&o.baseURL, "base-url", "", "game login API base URL")
	fs.StringVar(&o.schema, "schema", "", "login state schema: user_id or code")
	fs.StringVar(&o.interval, "interval", "", "wait between login state polls (e.g. 5s)")
	fs.IntVar(&o.maxAttempts, "max-attempts", 0, "maximum number of polls (0 = unlimited)")
	fs.StringVar(&o.timeout, "timeout", "", "give up waiting for login after this long (0 = never)")
	fs.StringVar(&o.achievement, "achievement", "", "achievement to grant after login (empty disables)")
	fs.BoolVar(&o.skipProfile, "skip-profile", false, "do not fetch the user profile after login")
}

func (o *flagOverrides) apply(fs *flag.FlagSet, cfg *config.Config) error {
	var err error
	fs.Visit(func(f *flag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "base-url":
			cfg.BaseURL = o.baseURL
		case "schema":
			cfg.Schema = gameapi.Schema(o.schema)
		case "interval":
			cfg.Poll.Interval, err = parseFlagDuration("interval", o.interval)
		case "max-attempts":
			cfg.Poll.MaxAttempts = o.maxAttempts
		case "timeout":
			cfg.Poll.Timeout, err = parseFlagDuration("timeout", o.timeout)
		case "achievement":
			cfg.Achievement = o.achievement
		case "skip-profile":
			cfg.SkipProfile = o.skipProfile
		}
	})
	if err != nil {
		return err
	}
	return config.ValidateConfig(cfg)
}

func newFlow(cfg config.Config, out io.Writer) (*loginflow.Flow, error) {
	client, err := gameapi.NewClient(cfg.BaseURL,
		gameapi.WithSchema(cfg.Schema),
		gameapi.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		gameapi.WithUserAgent("gamelogin/"+BuildVersion),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}

	return loginflow.New(client, loginflow.Options{
		Poll: loginflow.PollOptions{
			Interval:    cfg.Poll.Interval,
			MaxAttempts: cfg.Poll.MaxAttempts,
			Timeout:     cfg.Poll.Timeout,
		},
		SkipProfile: cfg.SkipProfile,
		Achievement: cfg.Achievement,
		OnLoginURL: func(req *gameapi.LoginRequest) {
			fmt.Fprintf(out, "Open this URL in a browser to log in:\n\n  %s\n\n", req.URL)
		},
		OnPoll: func(attempt int, state *gameapi.LoginState) {
			if !state.Completed() {
				fmt.Fprintf(out, "Waiting for login (attempt %d)...\n", attempt)
			}
		},
	}), nil
}

func run(ctx context.Context, cfg config.Config, out io.Writer) error {
	flow, err := newFlow(cfg, out)
	if err != nil {
		return err
	}

	result, err := flow.Run(ctx)
	if err != nil {
		return err
	}

	printResult(out, result)
	return nil
}

func printResult(out io.Writer, result *loginflow.Result) {
	if userID, ok := result.State.CompletedBy(); ok {
		fmt.Fprintf(out, "Login completed by user %s after %d poll(s)\n", userID, result.Attempts)
	}
	fmt.Fprintf(out, "Game login: %s\n", result.Login.Credentials())

	if result.User != nil {
		email := "-"
		if result.User.Email != nil {
			email = *result.User.Email
		}
		fmt.Fprintf(out, "User: %s (id %s, email %s)\n", result.User.Username, result.User.ID, email)
	}

	if result.Achievement != "" {
		if result.AchievementAdded {
			fmt.Fprintf(out, "Achievement %q granted\n", result.Achievement)
		} else {
			fmt.Fprintf(out, "Achievement %q was already granted\n", result.Achievement)
		}
	}
}

func main() {
	conf := flag.String("config", "", "path to config file (optional, environment variables are used otherwise)")
	version := flag.Bool("version", false, "print version and exit")
	help := flag.Bool("help", false, "print help and exit")
	configInit := flag.String("config-init", "", "generate default config file at specified path")
	validate := flag.Bool("validate", false, "validate config file and exit")
	var overrides flagOverrides
	overrides.register(flag.CommandLine)
	flag.Parse()
	if *help {
		flag.Usage()
		return
	}
	if *version {
		fmt.Println(BuildVersion)
		return
	}
	if *configInit != "" {
		if err := generateDefaultConfig(*configInit); err != nil {
			log.LogError("Failed to generate config: %v", err)
			os.Exit(1)
		}
		fmt.Printf("Generated default config at: %s\n", *configInit)
		return
	}

	if *validate {
		if *conf == "" {
			fmt.Fprintf(os.Stderr, "Error: -config flag is required for validation\n")
			os.Exit(1)
		}
		if err := validateConfig(*conf); err != nil {
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*conf)
	if err != nil {
		log.LogError("Failed to load config: %v", err)
		os.Exit(1)
	}
	if err := overrides.apply(flag.CommandLine, &cfg); err != nil {
		log.LogError("Invalid flags: %v", err)
		os.Exit(1)
	}

	log.LogInfoWithFields("main", "Starting game login", map[string]any{
		"version": BuildVersion,
		"baseURL": cfg.BaseURL,
		"schema":  cfg.Schema,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		log.LogError("Game login failed: %v", err)
		stop()
		os.Exit(1)
	}
}

func parseFlagDuration(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("-%s: invalid duration %q", name, value)
	}
	return d, nil
}
