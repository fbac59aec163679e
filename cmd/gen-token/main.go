package main

import (
	"fmt"
	"os"
	"time"

	jwtpkg "github.com/om-surushe/SMTP-Server/internal/auth/jwt"
	"github.com/om-surushe/SMTP-Server/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: gen-token <subject> [email] [expiry e.g. 720h]")
		os.Exit(1)
	}

	subject := os.Args[1]
	email := ""
	if len(os.Args) >= 3 {
		email = os.Args[2]
	}

	var expiry time.Duration
	if len(os.Args) >= 4 {
		d, err := time.ParseDuration(os.Args[3])
		if err != nil {
			fmt.Printf("Invalid expiry duration: %v\n", err)
			os.Exit(1)
		}
		expiry = d
	}

	// 加载配置（需要 SMTPGW_JWT_SECRET）
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.JWT.Secret == "" {
		fmt.Println("JWT secret is not configured, set SMTPGW_JWT_SECRET first")
		os.Exit(1)
	}

	manager := jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Expiry)
	token, err := manager.GenerateToken(subject, email, expiry)
	if err != nil {
		fmt.Printf("Failed to generate token: %v\n", err)
		os.Exit(1)
	}

	effective := expiry
	if effective == 0 {
		effective = cfg.JWT.Expiry
	}

	fmt.Println("✓ Token generated successfully!")
	fmt.Printf("  Subject: %s\n", subject)
	if email != "" {
		fmt.Printf("  Email:   %s\n", email)
	}
	fmt.Printf("  Expiry:  %s\n", effective)
	fmt.Printf("\n%s\n", token)
}
