package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/robfig/cron/v3"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anicoll/harvia-integration/internal/pkg/auth"
	"github.com/anicoll/harvia-integration/internal/pkg/config"
	"github.com/anicoll/harvia-integration/internal/pkg/device"
	"github.com/anicoll/harvia-integration/internal/pkg/endpoints"
	"github.com/anicoll/harvia-integration/internal/pkg/harvia"
	"github.com/anicoll/harvia-integration/internal/pkg/metrics"
	"github.com/anicoll/harvia-integration/internal/pkg/model"
	"github.com/anicoll/harvia-integration/internal/pkg/mqtt"
	"github.com/anicoll/harvia-integration/internal/pkg/publisher"
	"github.com/anicoll/harvia-integration/internal/pkg/server"
	"github.com/anicoll/harvia-integration/internal/pkg/subscription"
)

func HarviaCommand(ctx *cli.Context) error {
	cfg := &config.Config{
		HarviaCfg: &config.HarviaConfig{
			Username:           ctx.String("harvia-username"),
			Password:           ctx.String("harvia-password"),
			DeviceID:           ctx.String("harvia-device-id"),
			DisplayName:        ctx.String("harvia-device-name"),
			BaseURL:            ctx.String("harvia-base-url"),
			PollInterval:       ctx.Duration("poll-interval"),
			TokenRenewInterval: ctx.Duration("token-renew-interval"),
		},
		MqttCfg: &config.MqttConfig{
			Host:     ctx.String("mqtt-host"),
			Username: ctx.String("mqtt-user"),
			Password: ctx.String("mqtt-pass"),
		},
		ListenAddress: ctx.String("listen-address"),
		LogLevel:      ctx.String("log-level"),
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	return run(ctx.Context, cfg)
}

func run(ctx context.Context, cfg *config.Config) error {
	errorChan := make(chan error, 1000)
	var err error

	eg, ctx := errgroup.WithContext(ctx)
	logCfg := zap.NewProductionConfig()

	logCfg.Level, err = zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logCfg.OutputPaths = []string{"stdout"}
	logCfg.ErrorOutputPaths = []string{"stdout"}
	logCfg.Sampling = nil
	logger := zap.Must(logCfg.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)))
	defer func() {
		_ = logger.Sync() // flushes buffer, if any.
	}()
	zap.ReplaceGlobals(logger)

	dir := endpoints.New(cfg.HarviaCfg.BaseURL)
	sess := auth.NewSession(cfg.HarviaCfg.Username, cfg.HarviaCfg.Password, dir)
	if err := sess.Authenticate(ctx); err != nil {
		// Bad credentials never resolve themselves, so fail startup.
		return err
	}

	client := harvia.NewClient(dir, sess, cfg.HarviaCfg.DeviceID)
	devices, err := client.ListDevices(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return errors.New("no sauna devices discovered")
	}

	dev := devices[0]
	if cfg.HarviaCfg.DeviceID != "" {
		found, ok := lo.Find(devices, func(d model.Device) bool {
			return d.ID == cfg.HarviaCfg.DeviceID
		})
		if !ok {
			return fmt.Errorf("configured device %s not in discovered set", cfg.HarviaCfg.DeviceID)
		}
		dev = found
	}
	if cfg.HarviaCfg.DisplayName != "" {
		dev.DisplayName = cfg.HarviaCfg.DisplayName
	}
	logger.Info("managing sauna", zap.String("device_id", dev.ID), zap.String("name", dev.DisplayName))

	store := device.NewStore(dev.ID, dev.DisplayName)
	dispatcher := device.NewDispatcher(store, client, dev.ID)
	stateSub := subscription.New(subscription.DeviceChannel, dev.ID, sess, dir, client, store)
	dataSub := subscription.New(subscription.DataChannel, dev.ID, sess, dir, client, store)
	mgr := device.NewManager(dev, store, dispatcher, client, cfg.HarviaCfg.PollInterval, stateSub, dataSub)

	if cfg.MqttCfg.Host != "" {
		opts := paho_mqtt.NewClientOptions().
			AddBroker(cfg.MqttCfg.Host).
			SetUsername(cfg.MqttCfg.Username).
			SetPassword(cfg.MqttCfg.Password).
			SetClientID("harvia-integration")
		mqttSvc := mqtt.New(paho_mqtt.NewClient(opts))
		if err := mqttSvc.Connect(); err != nil {
			return err
		}
		if err := publisher.RegisterPublisher("mqtt", mqttSvc); err != nil {
			return err
		}
		if err := publisher.RegisterDevice(&dev); err != nil {
			return err
		}
		mgr.Subscribe(publisher.NewSnapshotBridge(dev))
	}

	eg.Go(func() error {
		return mgr.Run(ctx)
	})

	eg.Go(func() error {
		return cronTokenRenewal(ctx, sess, cfg.HarviaCfg.TokenRenewInterval, errorChan)
	})

	eg.Go(func() error {
		srv := &http.Server{
			Handler:      server.New(mgr).Router(),
			Addr:         cfg.ListenAddress,
			WriteTimeout: 15 * time.Second,
			ReadTimeout:  15 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		// handle any async errors from services
		for {
			select {
			case err := <-errorChan:
				var credErr *auth.CredentialError
				if errors.As(err, &credErr) {
					logger.Error("credentials rejected", zap.Error(err))
					return err
				}
				logger.Error("async error", zap.Error(err))
			case <-ctx.Done():
				logger.Info("context done")
				return ctx.Err()
			}
		}
	})

	return eg.Wait()
}

// cronTokenRenewal keeps the session's token triple fresh ahead of expiry so
// reconnecting subscriptions always find a usable id token.
func cronTokenRenewal(ctx context.Context, sess *auth.Session, interval time.Duration, errChan chan error) error {
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		renewCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		renewed, err := sess.RenewIfNeeded(renewCtx)
		if err != nil {
			var credErr *auth.CredentialError
			if errors.As(err, &credErr) {
				errChan <- err
				return
			}
			zap.L().Warn("token renewal failed", zap.Error(err))
			return
		}
		if renewed {
			metrics.TokenRenewals.Inc()
			zap.L().Info("renewed session tokens")
		}
	}); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	c.Run()
	return ctx.Err()
}
