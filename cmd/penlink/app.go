package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/penlink/internal/connmgr"
	"github.com/srg/penlink/internal/device/goble"
	"github.com/srg/penlink/internal/store"
	"github.com/srg/penlink/pkg/config"
)

// app holds the collaborators shared by the commands.
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	store    *store.File
	registry *goble.Registry
}

// newApp loads configuration and opens the state file. The radio is not
// touched until a command scans or dials.
func newApp(cmd *cobra.Command, chooser goble.Chooser) (*app, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if p, _ := cmd.Flags().GetString("store"); p != "" {
		cfg.StorePath = p
	}
	fileLevel := ""
	if cfgPath != "" {
		fileLevel = cfg.LogLevel
	}

	logger, err := configureLogger(cmd, "verbose", fileLevel)
	if err != nil {
		return nil, err
	}

	st, err := store.OpenFile(cfg.StorePath, logger)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}

	registry := goble.NewRegistry(st, &goble.Options{
		ScanTimeout: cfg.ScanTimeout,
		Chooser:     chooser,
	}, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		registry: registry,
	}, nil
}

func (a *app) manager() *connmgr.Manager {
	return connmgr.New(a.registry, a.store, a.cfg.ManagerOptions(a.logger))
}
