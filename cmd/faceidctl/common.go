package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/your-org/faceid/internal/app"
	"github.com/your-org/faceid/internal/config"
	"github.com/your-org/faceid/internal/identity"
	"github.com/your-org/faceid/internal/observability"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	// Keep stdout for command output.
	observability.SetupLoggerTo(os.Stderr, cfg.Logging.Level, "text")
	return cfg, nil
}

// openApp loads config and builds the engine. Commands that only delete pass
// models=false and skip loading ONNX Runtime.
func openApp(ctx context.Context, models bool) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, app.Options{LoadModels: models, RequireModels: models})
}

// mustGetInt gets an int flag value or panics if the flag doesn't exist.
func mustGetInt(cmd *cobra.Command, name string) int {
	val, err := cmd.Flags().GetInt(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// mustGetString gets a string flag value or panics if the flag doesn't exist.
func mustGetString(cmd *cobra.Command, name string) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// describe renders an engine error the way the API words it.
func describe(err error) string {
	var dup *identity.DuplicateError
	switch {
	case errors.As(err, &dup):
		return fmt.Sprintf("face already exists as %s (similarity %.4f)", dup.FaceID, dup.Score)
	case errors.Is(err, identity.ErrNoFaceDetected):
		return "no face detected"
	case errors.Is(err, identity.ErrInvalidImage):
		return "invalid image file"
	case errors.Is(err, identity.ErrNotFound):
		return "face_id not found"
	case errors.Is(err, identity.ErrIdentityMismatch):
		return "face_id does not match the supplied face"
	default:
		return err.Error()
	}
}
