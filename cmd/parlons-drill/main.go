// Command parlons-drill is a terminal pronunciation drill. It plays the
// French alphabet (or a word list) through the speaker, then asks the
// learner to repeat every item and prints scored, colour-coded feedback.
//
// Recording stops on Enter or automatically after a quiet interval.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MrWong99/parlons/internal/config"
	"github.com/MrWong99/parlons/pkg/assess"
	"github.com/MrWong99/parlons/pkg/audio/capture"
	"github.com/MrWong99/parlons/pkg/audio/capture/portaudio"
	"github.com/MrWong99/parlons/pkg/audio/resolve"
	"github.com/MrWong99/parlons/pkg/audio/sequence"
	"github.com/MrWong99/parlons/pkg/audio/sequence/beepplayer"
	"github.com/MrWong99/parlons/pkg/audio/silence"
	"github.com/MrWong99/parlons/pkg/practice"
	"github.com/MrWong99/parlons/pkg/provider/tts/proxy"
)

const defaultServerURL = "http://localhost:8080"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	serverURL := flag.String("server", "", "parlons API base URL (overrides practice.server_url)")
	words := flag.String("words", "", "comma-separated words to drill instead of the alphabet")
	lang := flag.String("lang", "", "synthesis language (defaults to speech.language)")
	listenOnly := flag.Bool("listen-only", false, "play the sequence and skip recording")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parlons-drill: %v\n", err)
		return 1
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Server.LogLevel.SlogLevel()})))

	base := *serverURL
	if base == "" {
		base = cfg.Practice.ServerURL
	}
	if base == "" {
		base = defaultServerURL
	}
	if *lang == "" {
		*lang = cfg.Speech.Language
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := newDrill(cfg, base, sources(*words, *lang))
	if err != nil {
		fmt.Fprintf(os.Stderr, "parlons-drill: %v\n", err)
		return 1
	}
	defer d.close()

	if err := d.listen(ctx); err != nil {
		return exitCode(err)
	}
	if *listenOnly {
		return 0
	}
	return exitCode(d.practise(ctx))
}

func exitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return 0
	default:
		fmt.Fprintln(os.Stderr, badStyle.Render(practice.UserMessage(err)))
		slog.Debug("drill failed", "err", err)
		return 1
	}
}

// sources builds the drill items: the alphabet when words is empty,
// otherwise the comma-separated words.
func sources(words, lang string) []resolve.Source {
	var out []resolve.Source
	if strings.TrimSpace(words) == "" {
		for r := 'a'; r <= 'z'; r++ {
			out = append(out, resolve.Source{
				ID:   "letter-" + string(r),
				Text: strings.ToUpper(string(r)),
				Lang: lang,
			})
		}
		return out
	}
	for _, w := range strings.Split(words, ",") {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		out = append(out, resolve.Source{ID: "word-" + w, Text: w, Lang: lang})
	}
	return out
}

type drill struct {
	cfg      *config.Config
	base     string
	srcs     []resolve.Source
	store    *resolve.BlobStore
	resolver *resolve.Resolver
	player   *sequence.Player
	events   chan error
}

func newDrill(cfg *config.Config, base string, srcs []resolve.Source) (*drill, error) {
	if len(srcs) == 0 {
		return nil, errors.New("nothing to drill")
	}
	synth, err := proxy.New(base, proxy.WithTimeout(cfg.Speech.Timeout))
	if err != nil {
		return nil, err
	}
	d := &drill{
		cfg:    cfg,
		base:   base,
		srcs:   srcs,
		store:  resolve.NewBlobStore(),
		events: make(chan error, 1),
	}
	d.resolver = resolve.New(synth, d.store, srcs)

	opener := beepplayer.DefaultOpener()
	opener["blob"] = d.store
	d.player = sequence.New(beepplayer.New(opener), nil,
		sequence.WithDelay(cfg.Practice.SequenceDelay),
		sequence.WithCallbacks(sequence.Callbacks{
			OnItemStart: func(i int) {
				fmt.Printf("  ▶ %s\n", d.srcs[i].Text)
			},
			OnSequenceEnd: func() { d.signal(nil) },
			OnError:       func(err error) { d.signal(err) },
		}),
	)
	return d, nil
}

func (d *drill) signal(err error) {
	select {
	case d.events <- err:
	default:
	}
}

// listen resolves every item and plays the whole sequence.
func (d *drill) listen(ctx context.Context) error {
	fmt.Println(dimStyle.Render("Preparing audio…"))
	items, err := d.resolver.Prefetch(ctx)
	if err != nil {
		return err
	}
	d.player.SetItems(items)

	fmt.Println(promptStyle.Render("Listen:"))
	if err := d.player.PlayAllFrom(ctx, 0); err != nil {
		return err
	}
	select {
	case err := <-d.events:
		return err
	case <-ctx.Done():
		d.player.Stop()
		return ctx.Err()
	}
}

// practise records and scores the learner on every item in turn.
func (d *drill) practise(ctx context.Context) error {
	devices, err := portaudio.Open()
	if err != nil {
		return err
	}
	defer devices.Close()

	sub, err := assess.New(d.base, assess.WithTimeout(d.cfg.Practice.SubmitTimeout))
	if err != nil {
		return err
	}
	mic := capture.New(devices)

	enter := make(chan struct{})
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			select {
			case enter <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}()

	var total float64
	for i, src := range d.srcs {
		fmt.Println()
		fmt.Println(renderPrompt(i, len(d.srcs), src.Text))
		if err := d.player.PlayItem(ctx, i); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Println(dimStyle.Render("  (" + practice.UserMessage(err) + ")"))
		}

		res, err := d.attempt(ctx, mic, sub, src.Text, enter)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Println(badStyle.Render("  " + practice.UserMessage(err)))
			if !practice.Retryable(err) {
				return err
			}
			continue
		}
		total += res.Score
		fmt.Println(renderResult(res))
	}

	avg := total / float64(len(d.srcs))
	fmt.Printf("\nAverage: %s\n", scoreStyle(avg).Render(fmt.Sprintf("%.0f%%", avg)))
	return nil
}

type outcome struct {
	res *assess.Result
	err error
}

// attempt records one utterance and waits for its assessment.
func (d *drill) attempt(ctx context.Context, mic *capture.Capture, sub *assess.Submitter, reference string, enter <-chan struct{}) (*assess.Result, error) {
	done := make(chan outcome, 4)
	finish := func(o outcome) {
		select {
		case done <- o:
		default:
		}
	}

	p := d.cfg.Practice
	s := practice.New(mic, sub, reference,
		practice.WithSilence(
			silence.WithThreshold(p.SilenceThreshold),
			silence.WithDuration(p.SilenceDuration),
			silence.WithPollInterval(p.PollInterval),
		),
		practice.WithEvents(practice.Events{
			OnLevel: func(v float64) {
				fmt.Printf("\r  %s ", renderLevel(v, 30))
			},
			OnAutoStop: func() { fmt.Print("\r" + dimStyle.Render("  (silence, stopping)") + "\n") },
			OnSubmitting: func() {
				fmt.Print("\r" + dimStyle.Render("  Checking…") + strings.Repeat(" ", 24) + "\n")
			},
			OnResult: func(res *assess.Result) { finish(outcome{res: res}) },
			OnError:  func(_ string, err error) { finish(outcome{err: err}) },
		}),
	)
	defer s.Close()

	fmt.Println(dimStyle.Render("  Recording; press Enter to stop."))
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	if !s.IsRecording() {
		o := <-done
		return o.res, o.err
	}

	for {
		select {
		case <-enter:
			s.Stop()
		case o := <-done:
			if o.err != nil && s.IsRecording() {
				// Non-fatal report such as a missing level display.
				fmt.Println(dimStyle.Render("  (" + practice.UserMessage(o.err) + ")"))
				continue
			}
			return o.res, o.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (d *drill) close() {
	d.player.Stop()
	d.resolver.Close()
}
