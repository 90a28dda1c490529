package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/danmuck/bridgectl/internal/logging"
	"github.com/danmuck/bridgectl/internal/protocol/envelope"
	"github.com/rs/zerolog/log"
)

const targetsPath = "cmd/setupctl/targets.toml"

var (
	// ErrNavigateBack asks the dialogue to terminate and return to the target menu.
	ErrNavigateBack = errors.New("navigate back")
	// ErrNavigateExit asks setupctl to exit.
	ErrNavigateExit = errors.New("navigate exit")
)

// App is the interactive controller.
type App struct {
	reader  *bufio.Reader
	out     io.Writer
	path    string
	cfg     targetsFile
	active  int
	channel *ChannelClient
}

func main() {
	path := flag.String("targets", targetsPath, "targets file path")
	flag.Parse()

	logging.ConfigureRuntime()
	app := NewApp(os.Stdin, os.Stdout, *path)
	if err := app.Run(context.Background()); err != nil {
		log.Error().Err(err).Msg("setupctl failed")
		os.Exit(1)
	}
}

func NewApp(in io.Reader, out io.Writer, path string) *App {
	return &App{
		reader: bufio.NewReader(in),
		out:    out,
		path:   path,
	}
}

// Run loads targets and loops on the target menu until exit.
func (a *App) Run(ctx context.Context) error {
	cfg, err := loadOrInitTargets(a.path)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.selectTarget(0)
	log.Info().Int("targets", len(cfg.Targets)).Str("controller", cfg.ControllerID).Msg("setupctl loaded")

	for {
		a.printMainMenu()
		choice, err := a.promptInt("Choose", 1, 3, false, true)
		if err != nil {
			if errors.Is(err, ErrNavigateExit) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		switch choice {
		case 1:
			if err := a.runSetup(ctx); err != nil {
				if errors.Is(err, ErrNavigateExit) || errors.Is(err, io.EOF) {
					return nil
				}
				fmt.Fprintf(a.out, "setup ended: %v\n", err)
			}
		case 2:
			if err := a.chooseTarget(); err != nil {
				if errors.Is(err, ErrNavigateExit) || errors.Is(err, io.EOF) {
					return nil
				}
			}
		case 3:
			return nil
		}
	}
}

func (a *App) printMainMenu() {
	target := a.cfg.Targets[a.active]
	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, "setupctl")
	fmt.Fprintf(a.out, "  target: %s (%s)\n", target.Name, target.URL)
	fmt.Fprintln(a.out, "  1) Start setup session")
	fmt.Fprintln(a.out, "  2) Select target")
	fmt.Fprintln(a.out, "  3) Exit")
}

func (a *App) chooseTarget() error {
	for i, t := range a.cfg.Targets {
		fmt.Fprintf(a.out, "  %d) %s %s\n", i+1, t.Name, t.URL)
	}
	choice, err := a.promptInt("Target", 1, len(a.cfg.Targets), true, true)
	if err != nil {
		return err
	}
	a.selectTarget(choice - 1)
	return nil
}

func (a *App) selectTarget(i int) {
	a.active = i
	t := a.cfg.Targets[i]
	a.channel = NewChannelClient(t.URL, a.cfg.ControllerID, a.cfg.pollEvery, a.cfg.PollAttempts)
}

// runSetup negotiates a session and renders responses until the operator
// backs out.
func (a *App) runSetup(ctx context.Context) error {
	tid := 0
	resp, err := a.channel.Exchange(ctx, map[string]any{
		"tid":      tid,
		"type":     string(envelope.TypeNegotiate),
		"language": "en-US",
	})
	if err != nil {
		return err
	}
	sid := resp.SID

	for {
		a.render(resp)
		fields, err := a.answer(resp)
		if err != nil {
			if errors.Is(err, ErrNavigateBack) || errors.Is(err, ErrNavigateExit) {
				payload, encErr := encodeFields(map[string]any{
					"tid":  resp.TID,
					"type": string(envelope.TypeTerminate),
					"sid":  sid,
				})
				if encErr == nil {
					_ = a.channel.Write(ctx, payload)
				}
			}
			if errors.Is(err, ErrNavigateBack) {
				return nil
			}
			return err
		}
		tid = resp.TID
		fields["tid"] = tid
		fields["type"] = string(envelope.TypeInterface)
		fields["sid"] = sid
		next, err := a.channel.Exchange(ctx, fields)
		if err != nil {
			return err
		}
		if next.SID != sid {
			fmt.Fprintln(a.out, "bridge started a new session")
			sid = next.SID
		}
		resp = next
	}
}

func (a *App) render(resp envelope.Response) {
	if a.cfg.ClearScreen {
		fmt.Fprint(a.out, "\033[H\033[2J")
	}
	fmt.Fprintln(a.out)
	switch body := resp.Body.(type) {
	case envelope.List:
		fmt.Fprintln(a.out, body.Title)
		for i, item := range body.Items {
			fmt.Fprintf(a.out, "  %d) %s\n", i+1, item)
		}
	case envelope.Input:
		fmt.Fprintln(a.out, body.Title)
	case envelope.Instruction:
		fmt.Fprintln(a.out, body.Title)
		if body.Detail != "" {
			fmt.Fprintf(a.out, "  %s\n", body.Detail)
		}
		if len(body.HeroImage) > 0 {
			fmt.Fprintf(a.out, "  [image %d bytes]\n", len(body.HeroImage))
		}
	}
}

// answer collects the operator's reply to resp as request fields.
func (a *App) answer(resp envelope.Response) (map[string]any, error) {
	switch body := resp.Body.(type) {
	case envelope.List:
		if len(body.Items) == 0 {
			if _, err := a.promptLine("Enter to continue"); err != nil {
				return nil, err
			}
			return map[string]any{}, nil
		}
		choice, err := a.promptInt("Select", 1, len(body.Items), true, true)
		if err != nil {
			return nil, err
		}
		return map[string]any{"selections": []int{choice - 1}}, nil

	case envelope.Input:
		answers := make([]string, 0, len(body.Items))
		for _, item := range body.Items {
			line, err := a.promptLine(item)
			if err != nil {
				return nil, err
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "back", "b":
				return nil, ErrNavigateBack
			case "exit", "e":
				return nil, ErrNavigateExit
			}
			answers = append(answers, line)
		}
		return map[string]any{"response": answers}, nil

	case envelope.Instruction:
		label := "Enter to return"
		if body.ShowNextButton {
			label = "Enter for next"
		}
		line, err := a.promptLine(label)
		if err != nil {
			return nil, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "back", "b":
			return nil, ErrNavigateBack
		case "exit", "e":
			return nil, ErrNavigateExit
		}
		return map[string]any{}, nil
	}
	return nil, fmt.Errorf("unsupported response body %T", resp.Body)
}

func (a *App) promptLine(label string) (string, error) {
	if strings.TrimSpace(label) != "" {
		fmt.Fprintf(a.out, "%s: ", label)
	}
	line, err := a.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (a *App) promptInt(label string, min int, max int, allowBack bool, allowExit bool) (int, error) {
	for {
		rangePrompt := fmt.Sprintf("%s [%d-%d", label, min, max)
		if allowBack {
			rangePrompt += "|back|b"
		}
		if allowExit {
			rangePrompt += "|exit|e"
		}
		rangePrompt += "]"
		line, err := a.promptLine(rangePrompt)
		if err != nil {
			return 0, err
		}
		trimmed := strings.ToLower(strings.TrimSpace(line))
		if allowBack && (trimmed == "back" || trimmed == "b") {
			return 0, ErrNavigateBack
		}
		if allowExit && (trimmed == "exit" || trimmed == "e") {
			return 0, ErrNavigateExit
		}
		v, err := strconv.Atoi(trimmed)
		if err != nil || v < min || v > max {
			fmt.Fprintln(a.out, "Invalid selection.")
			continue
		}
		return v, nil
	}
}
