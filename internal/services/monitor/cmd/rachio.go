package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/LeonardoBeccarini/flow-monitor/internal/config"
	"github.com/LeonardoBeccarini/flow-monitor/pkg/rachio"
)

func newRachio(cfg config.Config) (*rachio.Client, error) {
	if cfg.RachioAPIKey == "" || cfg.RachioDevice == "" {
		return nil, errors.New("RACHIO_API_KEY and RACHIO_DEVICE are required")
	}
	return rachio.NewClient(cfg.RachioAPIKey, rachio.Options{
		PublicURL: cfg.RachioPublicURL,
		CloudURL:  cfg.RachioCloudURL,
		Timeout:   10 * time.Second,
	}), nil
}

// findDevice retries transient API failures; an unknown device name is final.
func findDevice(ctx context.Context, rc *rachio.Client, name string) (*rachio.Device, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute

	var dev *rachio.Device
	err := backoff.RetryNotify(func() error {
		d, err := rc.FindDevice(ctx, name)
		if errors.Is(err, rachio.ErrDeviceNotFound) {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		dev = d
		return nil
	}, backoff.WithContext(bo, ctx), func(err error, next time.Duration) {
		log.Printf("rachio: %v, retrying in %s", err, next.Round(time.Second))
	})
	if err != nil {
		return nil, fmt.Errorf("controller %q: %w", name, err)
	}
	return dev, nil
}
