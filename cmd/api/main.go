package main

import (
	"context"
	"log"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	fbapp "firebase.google.com/go/v4"

	"servana/internal/adapter/api"
	"servana/internal/adapter/api/handler"
	apimiddleware "servana/internal/adapter/api/middleware"
	"servana/internal/adapter/api/router"
	"servana/internal/adapter/repository"
	"servana/internal/infrastructure/firebase"
	"servana/internal/infrastructure/websocket"
	"servana/internal/usecase"
	"servana/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	var opts []option.ClientOption

	// Service account from environment variable (production) or file path
	// (local development); on GCP the default credentials are enough.
	if serviceAccountJSON := os.Getenv("FIREBASE_SERVICE_ACCOUNT_JSON"); serviceAccountJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(serviceAccountJSON)))
	} else if serviceAccountPath := os.Getenv("FIREBASE_SERVICE_ACCOUNT_PATH"); serviceAccountPath != "" {
		opts = append(opts, option.WithCredentialsFile(serviceAccountPath))
	}

	firebaseApp, err := fbapp.NewApp(ctx, &fbapp.Config{ProjectID: cfg.FirebaseProject}, opts...)
	if err != nil {
		log.Fatalf("Failed to initialize Firebase: %v", err)
	}

	authClient, err := firebaseApp.Auth(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize Firebase Auth: %v", err)
	}

	firestoreClient, err := firestore.NewClient(ctx, cfg.FirebaseProject, opts...)
	if err != nil {
		log.Fatalf("Failed to create Firestore client: %v", err)
	}
	defer firestoreClient.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	conversationRepo := repository.NewFirestoreConversationRepository(firestoreClient)
	messageRepo := repository.NewFirestoreMessageRepository(firestoreClient)
	typingRepo := repository.NewRedisTypingRepository(redisClient)

	firebaseAuthClient := firebase.NewFirebaseAuthClient(authClient)

	conversationUseCase := usecase.NewConversationUseCase(conversationRepo, messageRepo, cfg.LivePageSize)
	typingUseCase := usecase.NewTypingUseCase(typingRepo)
	defer typingUseCase.Close()

	wsManager := websocket.NewManager(conversationUseCase, typingUseCase)
	wsManager.Start(ctx)

	e := echo.New()

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.Validator = api.NewValidator()

	authMiddleware := apimiddleware.NewAuthMiddleware(authClient)
	serviceMiddleware := apimiddleware.NewServiceMiddleware()

	conversationHandler := handler.NewConversationHandler(conversationUseCase)
	wsHandler := handler.NewWebSocketHandler(wsManager, firebaseAuthClient)
	healthHandler := handler.NewHealthHandler()

	router.Setup(e, conversationHandler, wsHandler, healthHandler, authMiddleware, serviceMiddleware)

	log.Printf("Starting server on port %s...", cfg.ServerPort)
	e.Logger.Fatal(e.Start(":" + cfg.ServerPort))
}
