package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/school-bulletin-api/api/swagger"
	"github.com/noah-isme/school-bulletin-api/internal/curriculum"
	"github.com/noah-isme/school-bulletin-api/internal/handler"
	"github.com/noah-isme/school-bulletin-api/internal/repository"
	"github.com/noah-isme/school-bulletin-api/internal/service"
	"github.com/noah-isme/school-bulletin-api/pkg/cache"
	"github.com/noah-isme/school-bulletin-api/pkg/config"
	"github.com/noah-isme/school-bulletin-api/pkg/database"
	"github.com/noah-isme/school-bulletin-api/pkg/export"
	"github.com/noah-isme/school-bulletin-api/pkg/jobs"
	"github.com/noah-isme/school-bulletin-api/pkg/logger"
	"github.com/noah-isme/school-bulletin-api/pkg/mailer"
	"github.com/noah-isme/school-bulletin-api/pkg/response"
	"github.com/noah-isme/school-bulletin-api/pkg/storage"
	"github.com/noah-isme/school-bulletin-api/pkg/validation"
)

// @title School Bulletin API
// @version 1.0.0
// @description Student records, grades and period report cards.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	response.SetDebug(cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			logr.Fatal("failed to apply migrations", zap.Error(err))
		}
		logr.Info("migrations applied")
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Fatal("failed to connect to redis", zap.Error(err))
	}

	app, err := buildApp(cfg, db, redisClient, logr)
	if err != nil {
		logr.Fatal("failed to build application", zap.Error(err))
	}
	defer app.denylist.Close() //nolint:errcheck
	app.mail.Start(context.Background())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           newRouter(cfg, app, logr),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	app.mail.Stop()
}

// application holds the wired handlers and the collaborators the router needs directly.
type application struct {
	users    *repository.UserRepository
	denylist *repository.TokenDenylist
	metrics  *service.MetricsService
	mail     *mailer.QueuedMailer

	auth     *service.AuthService
	students *service.StudentService

	authHandler     *handler.AuthHandler
	userHandler     *handler.UserHandler
	studentHandler  *handler.StudentHandler
	guardianHandler *handler.GuardianHandler
	classHandler    *handler.ClassHandler
	subjectHandler  *handler.SubjectHandler
	teacherHandler  *handler.TeacherHandler
	gradeHandler    *handler.GradeHandler
	reportHandler   *handler.ReportHandler
	absenceHandler  *handler.AbsenceHandler
	documentHandler *handler.DocumentHandler
	metricsHandler  *handler.MetricsHandler
}

func buildApp(cfg *config.Config, db *sqlx.DB, redisClient *redis.Client, logr *zap.Logger) (*application, error) {
	validate := validation.New()
	metrics := service.NewMetricsService()
	policy := curriculum.Default()

	files, err := storage.NewLocalStorage(cfg.Storage.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
	credentialsMailer := mailer.NewQueuedMailer(newMailer(cfg.Mail, logr), jobs.Config{
		Workers:    2,
		MaxRetries: 3,
		RetryDelay: 5 * time.Second,
		Logger:     logr,
	})

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	guardianRepo := repository.NewGuardianRepository(db)
	classRepo := repository.NewClassRepository(db)
	classSubjectRepo := repository.NewClassSubjectRepository(db)
	subjectRepo := repository.NewSubjectRepository(db)
	teacherRepo := repository.NewTeacherRepository(db)
	assignmentRepo := repository.NewTeacherAssignmentRepository(db)
	gradeRepo := repository.NewGradeRepository(db)
	reportRepo := repository.NewReportRepository(db)
	absenceRepo := repository.NewAbsenceRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	denylist := repository.NewTokenDenylist(redisClient, logr)

	provisioning := service.ProvisioningConfig{
		DefaultPassword: cfg.Enrollment.DefaultPassword,
		MaxRetries:      cfg.Enrollment.MaxRetries,
		LoginURL:        cfg.Mail.LoginURL,
	}

	authSvc := service.NewAuthService(userRepo, guardianRepo, db, denylist, metrics, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
		AllowRegistration:  cfg.Auth.AllowRegistration,
	})
	userSvc := service.NewUserService(userRepo, validate, logr)
	studentSvc := service.NewStudentService(service.StudentServiceDeps{
		Tx:        db,
		Students:  studentRepo,
		Users:     userRepo,
		Guardians: guardianRepo,
		Classes:   classRepo,
		Policy:    policy,
		Mailer:    credentialsMailer,
		Metrics:   metrics,
		Config:    provisioning,
		Validator: validate,
		Logger:    logr,
	})
	guardianSvc := service.NewGuardianService(guardianRepo, studentRepo, userRepo, validate, logr)
	classSvc := service.NewClassService(db, classRepo, classSubjectRepo, subjectRepo, studentRepo, policy, validate, logr)
	subjectSvc := service.NewSubjectService(subjectRepo, validate, logr)
	teacherSvc := service.NewTeacherService(service.TeacherServiceDeps{
		Tx:          db,
		Teachers:    teacherRepo,
		Assignments: assignmentRepo,
		Subjects:    subjectRepo,
		Classes:     classRepo,
		Users:       userRepo,
		Policy:      policy,
		Mailer:      credentialsMailer,
		Metrics:     metrics,
		Config:      provisioning,
		Validator:   validate,
		Logger:      logr,
	})
	gradeSvc := service.NewGradeService(service.GradeServiceDeps{
		Grades:       gradeRepo,
		Students:     studentRepo,
		Subjects:     subjectRepo,
		Teachers:     teacherRepo,
		Assignments:  assignmentRepo,
		Coefficients: classSubjectRepo,
		Audit:        userRepo,
		Validator:    validate,
		Logger:       logr,
	})
	reportSvc := service.NewReportService(service.ReportServiceDeps{
		Tx:           db,
		Reports:      reportRepo,
		Grades:       gradeRepo,
		Students:     studentRepo,
		Classes:      classRepo,
		Coefficients: classSubjectRepo,
		Renderer:     export.NewPDFExporter(),
		CSV:          export.NewCSVExporter(),
		Files:        files,
		Signer:       signer,
		Audit:        userRepo,
		Metrics:      metrics,
		Config:       service.ReportConfig{SchoolName: cfg.Reports.SchoolName},
		Validator:    validate,
		Logger:       logr,
	})
	absenceSvc := service.NewAbsenceService(absenceRepo, studentRepo, documentRepo, userRepo, validate, logr)
	documentSvc := service.NewDocumentService(documentRepo, studentRepo, files, userRepo, service.DocumentConfig{
		MaxUploadBytes:   cfg.Storage.MaxUploadBytes,
		AllowedMIMEs:     cfg.Storage.AllowedMIMEs,
		PhotoMaxWidth:    cfg.Storage.PhotoMaxWidth,
		PhotoJPEGQuality: cfg.Storage.PhotoJPEGQuality,
	}, validate, logr)

	readiness := map[string]handler.ReadinessCheck{
		"database": db.PingContext,
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	}

	return &application{
		users:    userRepo,
		denylist: denylist,
		metrics:  metrics,
		mail:     credentialsMailer,
		auth:     authSvc,
		students: studentSvc,

		authHandler:     handler.NewAuthHandler(authSvc),
		userHandler:     handler.NewUserHandler(userSvc),
		studentHandler:  handler.NewStudentHandler(studentSvc),
		guardianHandler: handler.NewGuardianHandler(guardianSvc),
		classHandler:    handler.NewClassHandler(classSvc),
		subjectHandler:  handler.NewSubjectHandler(subjectSvc),
		teacherHandler:  handler.NewTeacherHandler(teacherSvc),
		gradeHandler:    handler.NewGradeHandler(gradeSvc),
		reportHandler:   handler.NewReportHandler(reportSvc, cfg.APIPrefix+"/reports/download"),
		absenceHandler:  handler.NewAbsenceHandler(absenceSvc),
		documentHandler: handler.NewDocumentHandler(documentSvc),
		metricsHandler:  handler.NewMetricsHandler(metrics, readiness),
	}, nil
}

func newMailer(cfg config.MailConfig, logr *zap.Logger) mailer.Mailer {
	if cfg.Provider == "sendgrid" && cfg.SendGridAPIKey != "" {
		return mailer.NewSendGridMailer(cfg.SendGridAPIKey, cfg.FromName, cfg.FromEmail)
	}
	if cfg.Provider == "sendgrid" {
		logr.Warn("MAIL_PROVIDER is sendgrid but SENDGRID_API_KEY is empty, falling back to log mailer")
	}
	return mailer.NewLogMailer(logr)
}
