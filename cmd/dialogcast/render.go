package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/nadzzz/dialogcast/internal/config"
	"github.com/nadzzz/dialogcast/internal/engine"
	"github.com/nadzzz/dialogcast/internal/job"
	"github.com/nadzzz/dialogcast/internal/podcast"
	"github.com/nadzzz/dialogcast/internal/store"
	"github.com/nadzzz/dialogcast/internal/tts"
)

var (
	phaseStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).Width(11)
	barDoneStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	barTodoStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	summaryStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("42")).
			Padding(0, 1)
)

const barWidth = 30

var renderCmd = &cobra.Command{
	Use:   "render <script>",
	Short: "Render a script file to audio without starting the daemon",
	Long: `Render reads a dialogue script, synthesizes every segment with the configured
engines and writes the assembled audio to a file. Progress is printed as the
job moves through parsing, voice allocation, synthesis and assembly.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		output, _ := flags.GetString("output")
		engineName, _ := flags.GetString("engine")
		verbose, _ := flags.GetBool("verbose")

		opts := tts.Options{}
		for flag, key := range map[string]string{"language": tts.OptLanguage, "speaker-wav": tts.OptSpeakerWAV} {
			if v, _ := flags.GetString(flag); v != "" {
				opts[key] = v
			}
		}
		return render(cmd.Context(), cmd.ErrOrStderr(), args[0], output, engineName, opts, verbose)
	},
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().StringP("output", "o", "", "output audio file (defaults to the script name with the configured format extension)")
	renderCmd.Flags().StringP("engine", "e", "", "preferred synthesis engine (defaults to engines.default)")
	renderCmd.Flags().String("language", "", "language option passed to the backends")
	renderCmd.Flags().String("speaker-wav", "", "reference voice file for voice-cloning engines")
	renderCmd.Flags().BoolP("verbose", "v", false, "keep the configured log level instead of warnings only")
}

func render(parent context.Context, out io.Writer, scriptPath, output, engineName string, opts tts.Options, verbose bool) error {
	raw, err := os.ReadFile(scriptPath)
	if err != nil {
		return fmt.Errorf("reading script: %w", err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !verbose {
		cfg.Logging.Level = "warn"
		config.SetupLogging(cfg.Logging)
	}
	if output == "" {
		base := filepath.Base(scriptPath)
		output = strings.TrimSuffix(base, filepath.Ext(base)) + "." + cfg.Audio.Format
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engines := engine.FromConfig(cfg.Engines)
	defer engines.Close()
	engines.Probe(ctx)

	// A one-off render keeps its job and artifact in memory.
	svc := podcast.New(cfg, engines, store.NewMemory())
	go svc.Run(ctx)
	id, err := svc.Submit(ctx, string(raw), engineName, opts)
	if err != nil {
		return err
	}
	updates, stop, err := svc.Subscribe(id)
	if err != nil {
		return err
	}
	defer stop()

	last, err := follow(ctx, out, svc, id, updates)
	if err != nil {
		return err
	}
	if last.State != job.Completed {
		fmt.Fprintln(out, errorStyle.Render(fmt.Sprintf("✗ %s: %s", last.State, last.Message)))
		return fmt.Errorf("job %s", last.State)
	}

	art, err := svc.Artifact(ctx, id)
	if err != nil {
		return err
	}
	if err := os.WriteFile(output, art.Data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", output, err)
	}

	fmt.Fprintln(out, summaryStyle.Render(fmt.Sprintf(
		"%s\n%d segments, %s, %s\nengines: %s",
		output, art.Segments, art.Duration.Round(100*time.Millisecond), art.Format, strings.Join(last.EnginesUsed, ", "),
	)))
	return nil
}

// follow prints snapshots until the job finishes. A signal cancels the job
// and keeps reading until its final snapshot arrives.
func follow(ctx context.Context, out io.Writer, svc *podcast.Service, id string, updates <-chan job.Job) (job.Job, error) {
	var last job.Job
	warned := 0
	done := ctx.Done()
	for {
		select {
		case <-done:
			done = nil
			if err := svc.Cancel(id); err != nil && !errors.Is(err, job.ErrTerminal) {
				return last, err
			}
		case snap, ok := <-updates:
			if !ok {
				drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
				defer cancel()
				return last, svc.Shutdown(drainCtx)
			}
			for _, w := range snap.Warnings[warned:] {
				fmt.Fprintln(out, warnStyle.Render("! "+w))
			}
			warned = len(snap.Warnings)
			if snap.Phase != "" && (snap.Progress != last.Progress || snap.Phase != last.Phase) {
				fmt.Fprintf(out, "%s %s %3d%% %s\n", phaseStyle.Render(snap.Phase), bar(snap.Progress), snap.Progress, snap.Message)
			}
			last = snap
		}
	}
}

func bar(pct int) string {
	filled := barWidth * pct / 100
	return barDoneStyle.Render(strings.Repeat("█", filled)) + barTodoStyle.Render(strings.Repeat("░", barWidth-filled))
}
