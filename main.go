package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"murmur/audio"
	"murmur/doctor"
	"murmur/log"
	"murmur/session"
	"murmur/shutdown"
)

var version = "dev"

var sess *session.Session
var shutdownOnce sync.Once

// cliSink prints session events to the terminal and counts finished
// transcripts for the session-end log line.
type cliSink struct {
	transcribed atomic.Int64
}

func (s *cliSink) Transcribed(text string) {
	s.transcribed.Add(1)
	fmt.Println(text)
}

func (s *cliSink) RecordingStarted() {
	fmt.Println("recording... type 'stop' to finish")
}

func (s *cliSink) RecordingStopped() {
	fmt.Println("transcribing...")
}

func (s *cliSink) RecordingFailed(err error) {
	fmt.Fprintf(os.Stderr, "recording failed: %v\n", err)
}

func (s *cliSink) TranscriptionFailed(err error) {
	fmt.Fprintf(os.Stderr, "transcription failed: %v\n", err)
}

func (s *cliSink) PermissionRequestNeeded() {
	fmt.Fprintln(os.Stderr, "microphone access denied; grant it and run 'refresh'")
}

func gracefulShutdown(sink *cliSink) {
	shutdownOnce.Do(func() {
		if sess != nil {
			sess.Cleanup()
		}
		if n := int(sink.transcribed.Load()); n > 0 {
			log.SessionEnd(n)
		}
		log.Close()
		os.Exit(0)
	})
}

func main() {
	modelFlag := flag.String("model", "", "Path to the speech model file")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	threadsFlag := flag.Int("threads", 0, "Engine thread count (0 = auto)")
	playbackFlag := flag.Bool("playback", false, "Play each clip through the speakers while transcribing")
	keepFlacFlag := flag.Bool("keepflac", false, "Archive each recording as FLAC next to the WAV")
	timestampsFlag := flag.Bool("timestamps", false, "Prefix each segment with start/end timestamps")
	verboseFlag := flag.Bool("verbose", false, "Log per-transcription timing")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	infoFlag := flag.Bool("info", false, "Print engine build info and exit")
	benchFlag := flag.Bool("bench", false, "Run engine benchmarks and exit")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	crashFlag := flag.Bool("crash", false, "Trigger synthetic panic for testing crash logging")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("murmur %s\n", version)
		os.Exit(0)
	}

	if *doctorFlag {
		os.Exit(doctor.Run(*modelFlag))
	}

	// Resolve log directory early
	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)

	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if *crashFlag {
		panic("TEST CRASH: synthetic panic to verify crash logging")
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}

	ctx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Fprintf(os.Stderr, "Error initializing audio context: %v\n", err)
		os.Exit(1)
	}
	defer ctx.Close()

	var selectedDevice *audio.DeviceInfo
	if *deviceFlag != "" {
		if devices, err := ctx.Devices(); err == nil {
			for i := range devices {
				if devices[i].Name == *deviceFlag {
					selectedDevice = &devices[i]
					break
				}
			}
		}
		if selectedDevice == nil {
			fmt.Fprintf(os.Stderr, "Warning: device %q not found, using system default\n", *deviceFlag)
		}
	} else if *setupFlag {
		selectedDevice, err = selectDevice(ctx)
		if err != nil {
			log.Warnf("device selection failed: %v", err)
			fmt.Fprintf(os.Stderr, "Warning: device selection failed: %v\n", err)
			fmt.Fprintln(os.Stderr, "Falling back to default device")
			selectedDevice = nil
		}
	}
	if selectedDevice != nil && audio.IsBluetooth(selectedDevice.Name) {
		fmt.Fprintln(os.Stderr, "Warning: bluetooth microphones often capture at degraded quality")
	}

	sess, err = session.New(ctx, session.Options{
		Device:   selectedDevice,
		Threads:  *threadsFlag,
		Playback: *playbackFlag,
		KeepFLAC: *keepFlacFlag,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	sink := &cliSink{}
	sess.SetSink(sink)
	sess.RefreshMicPermission()

	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	go func() {
		<-sigChan
		gracefulShutdown(sink)
	}()

	if *modelFlag != "" {
		if err := sess.LoadModelFromPath(*modelFlag, *verboseFlag); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading model: %v\n", err)
			os.Exit(1)
		}
		log.SessionStart("whisper", *modelFlag)
	}

	if *infoFlag {
		info, err := sess.SystemInfo()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(info)
		gracefulShutdown(sink)
	}

	if *benchFlag {
		if !sess.ModelLoaded() {
			fmt.Fprintln(os.Stderr, "Error: -bench requires -model")
			os.Exit(1)
		}
		sess.BenchmarkModel()
		fmt.Print(sess.MessageLog())
		gracefulShutdown(sink)
	}

	// Files on the command line run as a batch, then exit.
	if files := flag.Args(); len(files) > 0 {
		if !sess.ModelLoaded() {
			fmt.Fprintln(os.Stderr, "Error: transcribing files requires -model")
			os.Exit(1)
		}
		for _, f := range files {
			sess.TranscribeFile(f, *verboseFlag, *timestampsFlag)
		}
		gracefulShutdown(sink)
	}

	runInteractive(sink, *verboseFlag, *timestampsFlag)
	gracefulShutdown(sink)
}

const interactiveHelp = `commands:
  record             start recording from the microphone
  stop               stop recording and transcribe
  toggle             flip between record and stop
  transcribe <file>  transcribe an audio file (wav, flac, mp3)
  bench              run engine benchmarks
  info               print engine build info
  log                print the session message log
  refresh            re-check microphone permission
  reset              release the model and clear all state
  quit               exit`

func runInteractive(sink *cliSink, verbose, timestamps bool) {
	fmt.Println(interactiveHelp)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case "":
		case "record", "r":
			sess.StartRecording()
		case "stop", "s":
			sess.StopRecording()
		case "toggle", "t":
			sess.ToggleRecording()
		case "transcribe":
			if arg == "" {
				fmt.Fprintln(os.Stderr, "usage: transcribe <file>")
				continue
			}
			sess.TranscribeFile(strings.TrimSpace(arg), verbose, timestamps)
		case "bench":
			sess.BenchmarkModel()
			fmt.Print(sess.MessageLog())
		case "info":
			info, err := sess.SystemInfo()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				continue
			}
			fmt.Println(info)
		case "log":
			fmt.Print(sess.MessageLog())
		case "refresh":
			if sess.RefreshMicPermission() {
				fmt.Println("microphone permission granted")
			} else {
				fmt.Println("microphone permission denied")
			}
		case "reset":
			sess.ResetState()
			fmt.Println("state cleared")
		case "quit", "q", "exit":
			return
		case "help", "?":
			fmt.Println(interactiveHelp)
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q (try 'help')\n", cmd)
		}
	}
}
