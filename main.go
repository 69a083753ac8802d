package main

import (
	"context"
	"os"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/tadmccorkle/static-comments-with-firebase/internal/config"
	"github.com/tadmccorkle/static-comments-with-firebase/internal/domain"
	"github.com/tadmccorkle/static-comments-with-firebase/internal/infra/crypto"
	"github.com/tadmccorkle/static-comments-with-firebase/internal/infra/database"
	"github.com/tadmccorkle/static-comments-with-firebase/internal/infra/github"
	"github.com/tadmccorkle/static-comments-with-firebase/internal/infra/mailgun"
	"github.com/tadmccorkle/static-comments-with-firebase/internal/infra/recaptcha"
	"github.com/tadmccorkle/static-comments-with-firebase/internal/infra/telemetry"
	"github.com/tadmccorkle/static-comments-with-firebase/internal/present/rest"
	"github.com/tadmccorkle/static-comments-with-firebase/internal/service"
	"github.com/tadmccorkle/static-comments-with-firebase/internal/usecase"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	conf, err := config.Load(configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if conf.Server.EnableTrace {
		shutdown, err := telemetry.Setup(context.Background(), conf.Server.TraceEndpoint)
		if err != nil {
			panic("failed to set up tracing: " + err.Error())
		}
		defer shutdown(context.Background())
	}

	rsa, err := crypto.NewRSA(conf.Server.RSAPrivateKey)
	if err != nil {
		panic("failed to load RSA private key: " + err.Error())
	}

	ghFactory := github.NewFactory(conf.GitHub)
	hosts := usecase.RepoHostFactoryFunc(func(params domain.Parameters) usecase.RepoHost {
		return ghFactory.NewClient(params)
	})
	mail := usecase.MailProviderFactoryFunc(func(apiKey, domainName string) usecase.MailProvider {
		return mailgun.New(conf.Email.BaseURL, apiKey, domainName)
	})

	subs := usecase.NewSubscriptionUsecase(mail, usecase.MailDefaults{
		APIKey:      conf.Email.APIKey,
		Domain:      conf.Email.Domain,
		FromAddress: conf.Email.FromAddress,
	}, conf.Server.APIOrigin, conf.Server.EmailHashSalt)

	entries := usecase.NewEntryUsecase(hosts, subs, recaptcha.New(""), rsa.Decrypt)
	webhooks := usecase.NewWebhookUsecase(hosts, entries)

	var rdb *redis.Client
	if conf.Server.RedisAddr != "" {
		rdb = database.NewRedis(conf.Server.RedisAddr, "", conf.Server.RedisDB)
	}
	dedupe := service.NewDedupeService(rdb)

	handler := rest.NewHandler(entries, webhooks, dedupe, ghFactory, rsa, conf.GitHub.WebhookSecret)

	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(corsMiddleware(conf.Server.AllowedOrigins))
	if conf.Server.EnableTrace {
		e.Use(otelecho.Middleware("comment-bot"))
	}

	// Submissions are rate limited; everything else passes through.
	e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			return !strings.HasPrefix(c.Path(), "/entry/")
		},
		Store: middleware.NewRateLimiterMemoryStore(5),
	}))

	handler.RegisterRoutes(e)

	e.Logger.Fatal(e.Start(conf.Server.Listen))
}

func corsMiddleware(allowedOrigins []string) echo.MiddlewareFunc {
	if len(allowedOrigins) == 0 {
		return middleware.CORS()
	}

	var origins []string
	for _, origin := range allowedOrigins {
		if origin == "*" || strings.Contains(origin, "://") {
			origins = append(origins, origin)
			continue
		}
		origins = append(origins, "http://"+origin, "https://"+origin)
	}

	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
	})
}
