// genctl drives the generation backend from the command line: log in, submit
// a generation job and wait for its result, or run a raw workflow graph.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"genclient/internal/auth"
	"genclient/internal/chat"
	"genclient/internal/domain"
	"genclient/internal/genapi"
	"genclient/internal/infra"
	"genclient/internal/token"
	"genclient/internal/workflow"
)

const usage = `usage: genctl <command> [flags]

commands:
  login      log in with email and password or verification code
  send-code  request a verification code by email
  generate   submit a generation job and wait for the result
  workflow   queue a workflow graph and wait for its images
  chat       ask the assistant a question
  logout     discard stored tokens
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		exitWithError(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)
	store := token.NewStore(cfg.TokenCachePath, &logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch os.Args[1] {
	case "login":
		err = runLogin(ctx, cfg, store, &logger, os.Args[2:])
	case "send-code":
		err = runSendCode(ctx, cfg, store, &logger, os.Args[2:])
	case "generate":
		err = runGenerate(ctx, cfg, store, &logger, os.Args[2:])
	case "workflow":
		err = runWorkflow(ctx, cfg, &logger, os.Args[2:])
	case "chat":
		err = runChat(ctx, cfg, &logger, os.Args[2:])
	case "logout":
		store.Clear()
		fmt.Println("logged out")
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		exitWithError(err)
	}
}

func runLogin(ctx context.Context, cfg *infra.Config, store *token.Store, logger *infra.Logger, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	var (
		emailFlag    string
		passwordFlag string
		codeFlag     string
	)
	fs.StringVar(&emailFlag, "email", "", "account email")
	fs.StringVar(&passwordFlag, "password", "", "account password")
	fs.StringVar(&codeFlag, "code", "", "verification code (alternative to -password)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client := auth.NewClient(auth.Options{
		BaseURL: cfg.APIBaseURL,
		Store:   store,
		Timeout: cfg.AuthTimeout,
		Logger:  logger,
	})

	var err error
	switch {
	case codeFlag != "":
		_, err = client.LoginCode(ctx, emailFlag, codeFlag)
	default:
		_, err = client.LoginPassword(ctx, emailFlag, passwordFlag)
	}
	if err != nil {
		return err
	}

	// Arm auto-refresh once so a refresh-capable backend extends the
	// session immediately; the timer dies with the process.
	refresher := token.NewRefresher(token.RefresherOptions{
		BaseURL: cfg.APIBaseURL,
		Store:   store,
		Timeout: cfg.AuthTimeout,
		Logger:  logger,
	})
	scheduler := token.NewScheduler(store, refresher, cfg.AutoRefreshPeriod, logger)
	scheduler.Start(ctx)
	scheduler.Stop()

	fmt.Println("logged in")
	return nil
}

func runSendCode(ctx context.Context, cfg *infra.Config, store *token.Store, logger *infra.Logger, args []string) error {
	fs := flag.NewFlagSet("send-code", flag.ExitOnError)
	var emailFlag string
	fs.StringVar(&emailFlag, "email", "", "account email")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client := auth.NewClient(auth.Options{
		BaseURL: cfg.APIBaseURL,
		Store:   store,
		Timeout: cfg.AuthTimeout,
		Logger:  logger,
	})
	if err := client.SendCode(ctx, emailFlag); err != nil {
		return err
	}
	fmt.Println("verification code sent")
	return nil
}

func runGenerate(ctx context.Context, cfg *infra.Config, store *token.Store, logger *infra.Logger, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	var (
		variantFlag  string
		promptFlag   string
		prompt1Flag  string
		prompt2Flag  string
		negativeFlag string
		seedFlag     string
		framesFlag   int
		imagesFlag   string
		videoFlag    bool
		vpromptFlag  string
	)
	fs.StringVar(&variantFlag, "variant", string(domain.VariantTextToImage), "generation variant")
	fs.StringVar(&promptFlag, "prompt", "", "prompt text")
	fs.StringVar(&prompt1Flag, "prompt1", "", "first segment prompt (10-second videos)")
	fs.StringVar(&prompt2Flag, "prompt2", "", "second segment prompt (10-second videos)")
	fs.StringVar(&negativeFlag, "negative", "", "negative prompt")
	fs.StringVar(&seedFlag, "seed", "", "seed (empty for random)")
	fs.IntVar(&framesFlag, "frames", 0, "video frame count (150 or 300)")
	fs.StringVar(&imagesFlag, "images", "", "comma-separated input image paths")
	fs.BoolVar(&videoFlag, "video", false, "also generate a video (multi-image variant)")
	fs.StringVar(&vpromptFlag, "video-prompt", "", "video motion prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}

	seed, err := domain.ParseSeed(seedFlag)
	if err != nil {
		return fmt.Errorf("invalid -seed: %w", err)
	}
	var imagePaths []string
	for _, p := range strings.Split(imagesFlag, ",") {
		if p = strings.TrimSpace(p); p != "" {
			imagePaths = append(imagePaths, p)
		}
	}

	req := domain.GenerationRequest{
		Variant:        domain.Variant(variantFlag),
		Prompt:         promptFlag,
		Prompt1:        prompt1Flag,
		Prompt2:        prompt2Flag,
		NegativePrompt: negativeFlag,
		Seed:           seed,
		NFrames:        framesFlag,
		ImagePaths:     imagePaths,
		GenerateVideo:  videoFlag,
		VideoPrompt:    vpromptFlag,
	}

	client := genapi.NewClient(genapi.Options{
		BaseURL: cfg.APIBaseURL,
		Store:   store,
		Logger:  logger,
	})

	result, err := client.Generate(ctx, req, func(elapsedSeconds int) {
		fmt.Printf("\rworking... %ds", elapsedSeconds)
	})
	fmt.Println()
	if err != nil {
		if errors.Is(err, domain.ErrUnauthenticated) {
			return errors.New("not logged in; run genctl login first")
		}
		return err
	}

	printResult(result)
	return nil
}

func runWorkflow(ctx context.Context, cfg *infra.Config, logger *infra.Logger, args []string) error {
	fs := flag.NewFlagSet("workflow", flag.ExitOnError)
	var (
		graphFlag  string
		imagesFlag string
	)
	fs.StringVar(&graphFlag, "graph", "", "path to a workflow graph JSON file")
	fs.StringVar(&imagesFlag, "images", "", "comma-separated input image paths to upload first")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if graphFlag == "" {
		return errors.New("-graph is required")
	}
	if cfg.WorkflowBaseURL == "" {
		return errors.New("WORKFLOW_BASE_URL is required")
	}

	graph, err := os.ReadFile(graphFlag)
	if err != nil {
		return fmt.Errorf("read graph: %w", err)
	}
	if !json.Valid(graph) {
		return fmt.Errorf("graph %s is not valid JSON", graphFlag)
	}

	client := workflow.NewClient(workflow.Options{
		BaseURL: cfg.WorkflowBaseURL,
		APIKey:  cfg.WorkflowAPIKey,
		Logger:  logger,
	})

	for _, p := range strings.Split(imagesFlag, ",") {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		uploaded, err := client.UploadImage(ctx, p, true)
		if err != nil {
			return err
		}
		fmt.Printf("uploaded %s as %s\n", p, uploaded.Ref())
	}

	promptID, err := client.QueuePrompt(ctx, graph)
	if err != nil {
		return err
	}
	fmt.Printf("queued prompt %s\n", promptID)

	images, err := client.WaitForImages(ctx, promptID, 0)
	if err != nil {
		return err
	}
	for _, img := range images {
		fmt.Println(client.ViewURL(img.Filename, img.Subfolder, img.Type))
	}
	return nil
}

func runChat(ctx context.Context, cfg *infra.Config, logger *infra.Logger, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	var (
		queryFlag        string
		conversationFlag string
		typewriterFlag   bool
	)
	fs.StringVar(&queryFlag, "q", "", "question to ask")
	fs.StringVar(&conversationFlag, "conversation", "", "conversation id to continue")
	fs.BoolVar(&typewriterFlag, "typewriter", false, "print the answer incrementally")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client := chat.NewClient(chat.Options{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.ChatTimeout,
		Logger:  logger,
	})
	answer, err := client.Send(ctx, queryFlag, conversationFlag)
	if err != nil {
		return err
	}

	if typewriterFlag {
		if err := chat.Replay(ctx, answer.Text, func(chunk string) {
			fmt.Print(chunk)
		}, func() {
			fmt.Println()
		}); err != nil {
			return err
		}
	} else {
		fmt.Println(answer.Text)
	}
	if answer.ConversationID != "" {
		fmt.Printf("conversation: %s\n", answer.ConversationID)
	}
	return nil
}

func printResult(result domain.NormalizedResult) {
	for _, img := range result.Images {
		fmt.Printf("image: %s\n", truncateDataURI(img.URL))
	}
	for _, vid := range result.Videos {
		fmt.Printf("video: %s\n", truncateDataURI(vid.URL))
	}
	if result.Cost != nil {
		fmt.Printf("cost: %.2f\n", *result.Cost)
	}
	if result.Balance != nil {
		fmt.Printf("balance: %.2f\n", *result.Balance)
	}
}

// truncateDataURI keeps terminal output readable; full data URIs run to
// megabytes.
func truncateDataURI(u string) string {
	if strings.HasPrefix(u, "data:") && len(u) > 80 {
		return u[:80] + "...(" + fmt.Sprint(len(u)) + " bytes)"
	}
	return u
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
