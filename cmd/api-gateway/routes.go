package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/school-bulletin-api/internal/middleware"
	"github.com/noah-isme/school-bulletin-api/internal/models"
	"github.com/noah-isme/school-bulletin-api/pkg/config"
	"github.com/noah-isme/school-bulletin-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/school-bulletin-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/school-bulletin-api/pkg/middleware/requestid"
)

func newRouter(cfg *config.Config, app *application, logr *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(app.metrics))

	r.GET("/health", app.metricsHandler.Health)
	r.GET("/ready", app.metricsHandler.Ready)
	r.GET("/metrics", app.metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	authn := middleware.JWT(app.auth)
	admin := middleware.AdminOnly()
	staff := middleware.Staff()

	auth := api.Group("/auth")
	auth.POST("/register", app.authHandler.Register)
	auth.POST("/login", app.authHandler.Login)
	auth.POST("/refresh", app.authHandler.Refresh)
	auth.POST("/logout", authn, app.authHandler.Logout)
	auth.POST("/invalidate-all", authn, app.authHandler.InvalidateAll)
	auth.GET("/me", authn, app.authHandler.Me)
	auth.PUT("/profile", authn, app.authHandler.UpdateProfile)
	auth.POST("/change-password", authn, app.authHandler.ChangePassword)

	// Signed links carry their own authorization.
	api.GET("/reports/download/:token", app.reportHandler.DownloadSigned)

	secured := api.Group("")
	secured.Use(authn)

	users := secured.Group("/users", admin)
	users.GET("", app.userHandler.List)
	users.POST("", app.userHandler.Create)
	users.GET("/:id", app.userHandler.Get)
	users.PUT("/:id", app.userHandler.Update)
	users.PATCH("/:id/toggle-status", app.userHandler.ToggleStatus)
	users.DELETE("/:id", app.userHandler.Delete)

	students := secured.Group("/students")
	students.GET("", staff, app.studentHandler.List)
	students.POST("", admin, app.studentHandler.Enroll)
	students.PUT("/:id", admin, app.studentHandler.Update)
	students.DELETE("/:id", admin, app.studentHandler.Delete)

	owned := students.Group("/:id", middleware.StudentAccess(app.students))
	owned.GET("", app.studentHandler.Get)
	owned.GET("/grades", app.gradeHandler.StudentGrades)
	owned.GET("/averages", app.gradeHandler.StudentAverages)
	owned.GET("/reports", app.reportHandler.StudentReports)
	owned.GET("/reports/:period/download", app.reportHandler.StudentDownload)
	owned.GET("/documents", app.documentHandler.StudentDocuments)
	owned.GET("/absences", app.absenceHandler.StudentAbsences)
	owned.GET("/absences/summary", app.absenceHandler.Summary)

	guardians := secured.Group("/guardians")
	guardians.GET("", admin, app.guardianHandler.List)
	guardians.GET("/:id", admin, app.guardianHandler.Get)
	guardians.PUT("/:id", admin, app.guardianHandler.Update)
	guardians.GET("/:id/students", middleware.RequireRoles(models.RoleAdmin, models.RoleGuardian), app.guardianHandler.Students)

	classAudit := middleware.Audit(app.users, "class", logr)
	classes := secured.Group("/classes")
	classes.GET("", staff, app.classHandler.List)
	classes.POST("", admin, classAudit, app.classHandler.Create)
	classes.GET("/:id", staff, app.classHandler.Get)
	classes.PUT("/:id", admin, classAudit, app.classHandler.Update)
	classes.DELETE("/:id", admin, classAudit, app.classHandler.Delete)
	classes.GET("/:id/students", staff, app.classHandler.Students)
	classes.GET("/:id/subjects", staff, app.classHandler.Subjects)
	classes.PUT("/:id/subjects", admin, classAudit, app.classHandler.AssignSubjects)
	classes.POST("/:id/subjects/defaults", admin, classAudit, app.classHandler.AssignDefaultSubjects)
	classes.DELETE("/:id/subjects/:subjectId", admin, classAudit, app.classHandler.RemoveSubject)
	classes.GET("/:id/results", staff, app.reportHandler.ClassResults)

	subjectAudit := middleware.Audit(app.users, "subject", logr)
	subjects := secured.Group("/subjects")
	subjects.GET("", app.subjectHandler.List)
	subjects.GET("/:id", app.subjectHandler.Get)
	subjects.POST("", admin, subjectAudit, app.subjectHandler.Create)
	subjects.PUT("/:id", admin, subjectAudit, app.subjectHandler.Update)
	subjects.DELETE("/:id", admin, subjectAudit, app.subjectHandler.Delete)

	teachers := secured.Group("/teachers")
	teachers.GET("", staff, app.teacherHandler.List)
	teachers.POST("", admin, app.teacherHandler.Create)
	teachers.GET("/:id", staff, app.teacherHandler.Get)
	teachers.PUT("/:id", admin, app.teacherHandler.Update)
	teachers.DELETE("/:id", admin, app.teacherHandler.Delete)
	teachers.GET("/:id/subjects", staff, app.teacherHandler.Subjects)
	teachers.PUT("/:id/subjects", admin, app.teacherHandler.AssignSubjects)
	teachers.POST("/:id/subjects/defaults", admin, app.teacherHandler.AssignDefaultSubjects)
	teachers.GET("/:id/classes", staff, app.teacherHandler.Classes)
	teachers.PUT("/:id/classes", admin, app.teacherHandler.AssignClasses)

	grades := secured.Group("/grades", staff)
	grades.GET("", app.gradeHandler.List)
	grades.POST("", app.gradeHandler.Create)
	grades.GET("/:id", app.gradeHandler.Get)
	grades.PUT("/:id", app.gradeHandler.Update)
	grades.DELETE("/:id", app.gradeHandler.Delete)

	reports := secured.Group("/reports", staff)
	reports.GET("", app.reportHandler.List)
	reports.POST("", app.reportHandler.Generate)
	reports.POST("/regenerate", app.reportHandler.Regenerate)
	reports.GET("/:id", app.reportHandler.Get)
	reports.GET("/:id/link", app.reportHandler.Link)
	reports.DELETE("/:id", admin, app.reportHandler.Delete)

	absences := secured.Group("/absences")
	absences.GET("", staff, app.absenceHandler.List)
	absences.POST("", staff, app.absenceHandler.Create)
	absences.GET("/:id", staff, app.absenceHandler.Get)
	absences.PUT("/:id", staff, app.absenceHandler.Update)
	absences.DELETE("/:id", staff, app.absenceHandler.Delete)
	absences.PATCH("/:id/justify", middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher, models.RoleGuardian), app.absenceHandler.Justify)

	documents := secured.Group("/documents")
	documents.GET("", staff, app.documentHandler.List)
	documents.POST("", staff, app.documentHandler.Upload)
	documents.GET("/:id", staff, app.documentHandler.Get)
	documents.GET("/:id/download", staff, app.documentHandler.Download)
	documents.PATCH("/:id/validate", admin, app.documentHandler.Validate)
	documents.DELETE("/:id", admin, app.documentHandler.Delete)

	return r
}
