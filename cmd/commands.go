package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"kb-platform-console/internal/models"
	"kb-platform-console/internal/render"

	"github.com/fatih/color"
	"github.com/spf13/pflag"
)

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"upload":   uploadCmd,
	"retry":    retryCmd,
	"files":    filesCmd,
	"watch":    watchCmd,
	"remove":   removeCmd,
	"clear":    clearCmd,
	"ask":      askCmd,
	"history":  historyCmd,
	"reset":    resetCmd,
	"feedback": feedbackCmd,
	"health":   healthCmd,
}

var (
	errorLabel = color.New(color.FgRed, color.Bold).SprintFunc()
	boldCyan   = color.New(color.FgCyan, color.Bold).SprintFunc()
	boldGreen  = color.New(color.FgGreen, color.Bold).SprintFunc()
	faint      = color.New(color.Faint).SprintFunc()
)

func statusLabel(s models.FileStatus) string {
	switch s {
	case models.FileStatusSuccess:
		return color.GreenString(string(s))
	case models.FileStatusProcessing:
		return color.YellowString(string(s))
	case models.FileStatusError:
		return color.RedString(string(s))
	default:
		return color.CyanString(string(s))
	}
}

func readSource(path string) (models.SourceFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.SourceFile{}, err
	}
	return models.SourceFile{Name: filepath.Base(path), Size: int64(len(data)), Content: data}, nil
}

func uploadCmd(ctx context.Context, a *app, args []string) error {
	fs := pflag.NewFlagSet("upload", pflag.ContinueOnError)
	wait := fs.Bool("wait", false, "follow processing files until they settle")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var files []models.SourceFile
	for _, path := range fs.Args() {
		f, err := readSource(path)
		if err != nil {
			return err
		}
		files = append(files, f)
	}

	err := a.ingestion.Upload(ctx, files)
	printRejections(a)
	printFiles(a.ingestion.Files())
	if err != nil {
		return err
	}
	if *wait {
		return watchCmd(ctx, a, nil)
	}
	return nil
}

func retryCmd(ctx context.Context, a *app, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: retry <file-id> [path]")
	}
	id := args[0]
	if len(args) > 1 {
		f, err := readSource(args[1])
		if err != nil {
			return err
		}
		if err := a.ingestion.Reattach(id, f); err != nil {
			return err
		}
	}

	err := a.ingestion.Retry(ctx, id)
	printFiles(a.ingestion.Files())
	return err
}

func filesCmd(ctx context.Context, a *app, args []string) error {
	printFiles(a.ingestion.Files())
	return nil
}

// watchCmd prints status changes until no file is processing any more.
func watchCmd(ctx context.Context, a *app, args []string) error {
	last := make(map[string]models.FileStatus)
	for _, f := range a.ingestion.Files() {
		last[f.ID] = f.Status
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		pending := 0
		for _, f := range a.ingestion.Files() {
			if f.Status == models.FileStatusProcessing {
				pending++
			}
			if last[f.ID] != f.Status {
				last[f.ID] = f.Status
				line := fmt.Sprintf("%s %s", f.Filename, statusLabel(f.Status))
				if f.ErrorMessage != "" {
					line += " " + faint(f.ErrorMessage)
				}
				fmt.Println(line)
			}
		}
		if pending == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func removeCmd(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: remove <file-id>")
	}
	if !a.ingestion.Remove(args[0]) {
		return fmt.Errorf("no tracked file %s", args[0])
	}
	return nil
}

func clearCmd(ctx context.Context, a *app, args []string) error {
	a.ingestion.Clear()
	return nil
}

func askCmd(ctx context.Context, a *app, args []string) error {
	fs := pflag.NewFlagSet("ask", pflag.ContinueOnError)
	asHTML := fs.Bool("html", false, "print the answer as sanitized HTML")
	if err := fs.Parse(args); err != nil {
		return err
	}
	question := strings.Join(fs.Args(), " ")

	if !*asHTML {
		fmt.Print(boldCyan("Assistant: "))
	}
	msg, err := a.query.Ask(ctx, question, func(ev models.ProgressEvent) {
		if ev.Type == models.EventChunk && !*asHTML {
			fmt.Print(ev.Content)
		}
	})
	if err != nil {
		fmt.Println()
		return err
	}

	if *asHTML {
		html, err := render.Markdown(msg.Content)
		if err != nil {
			return err
		}
		fmt.Println(html)
	} else {
		fmt.Println()
	}
	printCitations(msg)
	fmt.Println(faint("message " + msg.ID))
	return nil
}

func historyCmd(ctx context.Context, a *app, args []string) error {
	fmt.Println(faint("conversation " + a.query.ConversationID()))
	for _, msg := range a.query.Messages() {
		label := boldGreen("You: ")
		if msg.Role == models.RoleAssistant {
			label = boldCyan("Assistant: ")
		}
		fmt.Println(label + msg.Content)
		if msg.Error != "" {
			fmt.Println(errorLabel("  " + msg.Error))
		}
	}
	return nil
}

func resetCmd(ctx context.Context, a *app, args []string) error {
	a.query.Reset()
	fmt.Println(faint("conversation " + a.query.ConversationID()))
	return nil
}

func feedbackCmd(ctx context.Context, a *app, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: feedback <message-id> <rating> [comment]")
	}
	return a.query.SendFeedback(ctx, args[0], args[1], strings.Join(args[2:], " "))
}

func healthCmd(ctx context.Context, a *app, args []string) error {
	if err := a.client.HealthCheck(ctx); err != nil {
		return err
	}
	fmt.Println(boldGreen("healthy"))
	return nil
}

func printRejections(a *app) {
	rejections := a.ingestion.Rejections()
	names := make([]string, 0, len(rejections))
	for name := range rejections {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%s %s: %s\n", errorLabel("rejected"), name, rejections[name].Message)
	}
}

func printFiles(files []models.UploadedFile) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFILE\tSTATUS\tPROGRESS\tDETAIL")
	for _, f := range files {
		detail := f.ErrorMessage
		if detail == "" {
			detail = f.DocumentID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%s\n", f.ID, f.Filename, statusLabel(f.Status), f.Progress, detail)
	}
	w.Flush()
}

func printCitations(msg models.ChatMessage) {
	for _, c := range msg.Citations {
		name := c.DocumentName
		if name == "" {
			name = c.DocumentID
		}
		line := fmt.Sprintf("  [%s] %s", c.ID, name)
		if c.Page != nil {
			line += fmt.Sprintf(" p.%d", *c.Page)
		}
		fmt.Println(faint(line))
	}
}
