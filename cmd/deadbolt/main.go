// Command deadbolt locks the current Wayland session behind a password
// prompt using the ext-session-lock-v1 protocol.
package main

import (
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/MatthiasKunnen/deadbolt/pkg/auth"
	"github.com/MatthiasKunnen/deadbolt/pkg/canvas"
	"github.com/MatthiasKunnen/deadbolt/pkg/config"
	"github.com/MatthiasKunnen/deadbolt/pkg/lockhint"
	"github.com/MatthiasKunnen/deadbolt/pkg/locker"
	"github.com/MatthiasKunnen/deadbolt/pkg/wayland"
)

// pamService is the PAM service name submissions are checked against.
const pamService = "deadbolt"

func main() {
	opts, err := parseFlags("deadbolt", os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	logCfg := zap.NewProductionConfig()
	logCfg.Level = opts.logLevel
	log, err := logCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(opts, log); err != nil {
		log.Error("deadbolt failed", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(opts cliOptions, log *zap.Logger) error {
	// The process handles passwords; refuse to be ptraced or dumped.
	if err := unix.Prctl(unix.PR_SET_DUMPABLE, 0, 0, 0, 0); err != nil {
		return fmt.Errorf("disable dumpability: %w", err)
	}

	cfg, err := config.Load(opts.overrides)
	if err != nil {
		return fmt.Errorf("resolve configuration: %w", err)
	}

	var bgImage image.Image
	if cfg.General.BgType == config.BackgroundImage {
		img, err := canvas.LoadImage(cfg.Image.Path)
		if err != nil {
			return fmt.Errorf("load background image: %w", err)
		}
		bgImage = img
	}

	authService, err := auth.New(
		auth.PamChecker{Service: pamService},
		cfg.General.AllowEmptyPassword,
		log,
	)
	if err != nil {
		return fmt.Errorf("start authenticator: %w", err)
	}
	defer func() { _ = authService.Close() }()

	// The locked hint is best effort: the lock must work on systems
	// without logind.
	session, err := lockhint.NewSession(os.Getenv("XDG_SESSION_ID"))
	if err != nil {
		log.Warn("logind integration unavailable", zap.Error(err))
		session = nil
	} else {
		defer func() {
			if err := session.Close(); err != nil {
				log.Warn("close logind connection", zap.Error(err))
			}
		}()
	}

	client, err := wayland.NewClient(log)
	if err != nil {
		return fmt.Errorf("create display client: %w", err)
	}
	defer func() { _ = client.Close() }()

	var hinter locker.LockedHinter
	if session != nil {
		hinter = session
	}
	lkr, err := locker.New(&cfg, client, authService, bgImage, hinter, log)
	if err != nil {
		return fmt.Errorf("create locker: %w", err)
	}
	client.SetSink(lkr)

	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect to compositor: %w", err)
	}

	if session != nil {
		unlockSignal := make(chan struct{}, 1)
		if err := session.AddUnlockSignal(unlockSignal); err != nil {
			log.Warn("cannot watch for unlock signals", zap.Error(err))
		} else {
			go func() {
				<-unlockSignal
				lkr.RequestUnlock()
			}()
		}
	}

	runErr := lkr.Run()

	if session != nil {
		if err := session.SetLocked(false); err != nil {
			log.Warn("clear locked hint", zap.Error(err))
		}
	}
	return runErr
}
