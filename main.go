package main

import (
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/anicoll/harvia-integration/cmd"
)

func main() {
	app := &cli.App{
		Name:   "harvia-controller",
		Usage:  "cloud synchronization core for harvia sauna devices",
		Action: cmd.HarviaCommand,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "harvia-username",
				EnvVars:  []string{"HARVIA_USERNAME"},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "harvia-password",
				EnvVars:  []string{"HARVIA_PASSWORD"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "harvia-device-id",
				EnvVars: []string{"HARVIA_DEVICE_ID"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "harvia-device-name",
				EnvVars: []string{"HARVIA_DEVICE_NAME"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "harvia-base-url",
				EnvVars: []string{"HARVIA_BASE_URL"},
				Value:   "https://prod.myharvia-cloud.net",
			},
			&cli.StringFlag{
				Name:    "mqtt-host",
				EnvVars: []string{"MQTT_HOST"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "mqtt-user",
				EnvVars: []string{"MQTT_USER"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "mqtt-pass",
				EnvVars: []string{"MQTT_PASS"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "listen-address",
				EnvVars: []string{"LISTEN_ADDRESS"},
				Value:   "0.0.0.0:8000",
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				EnvVars: []string{"POLL_INTERVAL"},
				Value:   5 * time.Minute,
			},
			&cli.DurationFlag{
				Name:    "token-renew-interval",
				EnvVars: []string{"TOKEN_RENEW_INTERVAL"},
				Value:   10 * time.Minute,
			},
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "INFO",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
