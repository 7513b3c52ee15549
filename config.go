package main

import (
	"fmt"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi/config"
)

const (
	defaultInstanceType = "t2.micro"
	defaultKeyPairName  = "your-key-pair-name" // placeholder, set keyPairName before applying
)

// Config holds the recognized stack configuration values.
type Config struct {
	InstanceType string
	AppRepoURL   string
	KeyPairName  string
}

// loadConfig resolves the stack configuration. appRepoUrl is required and a
// missing value fails the program before any resource is declared.
func loadConfig(ctx *pulumi.Context) (Config, error) {
	cfg := config.New(ctx, "")

	appRepoURL, err := cfg.Try("appRepoUrl")
	if err != nil {
		return Config{}, fmt.Errorf("missing required config appRepoUrl: set it to the git URL of the video-converter app: %w", err)
	}

	instanceType := cfg.Get("instanceType")
	if instanceType == "" {
		instanceType = defaultInstanceType
	}

	keyPairName := cfg.Get("keyPairName")
	if keyPairName == "" {
		keyPairName = defaultKeyPairName
	}

	return Config{
		InstanceType: instanceType,
		AppRepoURL:   appRepoURL,
		KeyPairName:  keyPairName,
	}, nil
}
