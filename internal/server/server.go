package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Phillboard/mobul-sub000/internal/account"
	accountdomain "github.com/Phillboard/mobul-sub000/internal/account/domain"
	"github.com/Phillboard/mobul-sub000/internal/brand"
	branddomain "github.com/Phillboard/mobul-sub000/internal/brand/domain"
	"github.com/Phillboard/mobul-sub000/internal/campaign"
	campaigndomain "github.com/Phillboard/mobul-sub000/internal/campaign/domain"
	"github.com/Phillboard/mobul-sub000/internal/checkpoint"
	checkpointdomain "github.com/Phillboard/mobul-sub000/internal/checkpoint/domain"
	"github.com/Phillboard/mobul-sub000/internal/cloudmetrics"
	"github.com/Phillboard/mobul-sub000/internal/config"
	"github.com/Phillboard/mobul-sub000/internal/events"
	"github.com/Phillboard/mobul-sub000/internal/inventory"
	inventorydomain "github.com/Phillboard/mobul-sub000/internal/inventory/domain"
	"github.com/Phillboard/mobul-sub000/internal/ledger"
	ledgerdomain "github.com/Phillboard/mobul-sub000/internal/ledger/domain"
	"github.com/Phillboard/mobul-sub000/internal/observability"
	obsmiddleware "github.com/Phillboard/mobul-sub000/internal/observability/logger"
	obsmetrics "github.com/Phillboard/mobul-sub000/internal/observability/metrics"
	obstracing "github.com/Phillboard/mobul-sub000/internal/observability/tracing"
	"github.com/Phillboard/mobul-sub000/internal/pricing"
	pricingdomain "github.com/Phillboard/mobul-sub000/internal/pricing/domain"
	"github.com/Phillboard/mobul-sub000/internal/providers/notify"
	"github.com/Phillboard/mobul-sub000/internal/providers/slack"
	"github.com/Phillboard/mobul-sub000/internal/provisioning"
	provisioningdomain "github.com/Phillboard/mobul-sub000/internal/provisioning/domain"
	"github.com/Phillboard/mobul-sub000/internal/ratelimit"
	vendor "github.com/Phillboard/mobul-sub000/internal/vendors"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	config.Module,
	cloudmetrics.Module,
	fx.Provide(registerGin),
	events.Module,
	account.Module,
	brand.Module,
	campaign.Module,
	inventory.Module,
	pricing.Module,
	ledger.Module,
	checkpoint.Module,
	vendor.Module,
	slack.Module,
	notify.Module,
	provisioning.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// classifyErrorForLog maps a handler error to the (type, code) pair attached
// to the request log line. Mirrors mapError without building a payload.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	if vErr := asValidationErrors(err); vErr != nil {
		code := ""
		if len(vErr.Errors) > 0 {
			code = vErr.Errors[0].Code
		}
		return "validation_error", code
	}
	status, payload := mapError(err)
	_ = status
	return payload.Type, payload.Type
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	db             *gorm.DB
	genID          *snowflake.Node
	accountSvc     accountdomain.Service
	brandSvc       branddomain.Service
	campaignSvc    campaigndomain.Service
	inventorySvc   inventorydomain.Service
	pricingSvc     pricingdomain.Service
	ledgerSvc      ledgerdomain.Service
	checkpointSvc  checkpointdomain.Service
	provisioner    provisioningdomain.Service
	limiter        *ratelimit.ProvisionLimiter
	obsMetrics     *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	DB            *gorm.DB
	GenID         *snowflake.Node
	AccountSvc    accountdomain.Service
	BrandSvc      branddomain.Service
	CampaignSvc   campaigndomain.Service
	InventorySvc  inventorydomain.Service
	PricingSvc    pricingdomain.Service
	LedgerSvc     ledgerdomain.Service
	CheckpointSvc checkpointdomain.Service
	Provisioner   provisioningdomain.Service
	Limiter       *ratelimit.ProvisionLimiter `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics         `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		db:            p.DB,
		genID:         p.GenID,
		accountSvc:    p.AccountSvc,
		brandSvc:      p.BrandSvc,
		campaignSvc:   p.CampaignSvc,
		inventorySvc:  p.InventorySvc,
		pricingSvc:    p.PricingSvc,
		ledgerSvc:     p.LedgerSvc,
		checkpointSvc: p.CheckpointSvc,
		provisioner:   p.Provisioner,
		limiter:       p.Limiter,
		obsMetrics:    p.ObsMetrics,
	}

	svc.registerProvisionRoutes()
	svc.registerInventoryRoutes()
	svc.registerLedgerRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerProvisionRoutes() {
	v1 := s.engine.Group("/v1")

	provisionGroup := v1.Group("/provision", s.ProvisionRateLimit())
	provisionGroup.POST("", s.Provision)
	provisionGroup.POST("/call-center", s.ProvisionCallCenter)
	provisionGroup.POST("/sandbox", s.ProvisionSandbox)

	v1.GET("/provision/:request_id/checkpoints", s.GetProvisionCheckpoints)
}

func (s *Server) registerInventoryRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/inventory/stock", s.BulkStockInventory)
	v1.GET("/inventory/availability", s.GetInventoryAvailability)
	v1.POST("/inventory/cards/:id/revoke", s.RevokeCard)
	v1.POST("/inventory/cards/:id/deliver", s.DeliverCard)
}

func (s *Server) registerLedgerRoutes() {
	v1 := s.engine.Group("/v1")

	v1.GET("/ledger/entries", s.ListLedgerEntries)
	v1.GET("/reconciliation", s.GetReconciliationGaps)
}

func (s *Server) registerAdminRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/brands", s.CreateBrand)
	v1.GET("/brands", s.ListBrands)
	v1.GET("/brands/:id", s.GetBrandByID)
	v1.PATCH("/brands/:id/enabled", s.SetBrandEnabled)

	v1.POST("/agencies", s.CreateAgency)
	v1.GET("/agencies", s.ListAgencies)
	v1.GET("/agencies/:id", s.GetAgencyByID)
	v1.POST("/agencies/:id/credits", s.AdjustAgencyCredits)

	v1.POST("/clients", s.CreateClient)
	v1.GET("/clients", s.ListClients)
	v1.GET("/clients/:id", s.GetClientByID)
	v1.POST("/clients/:id/credits", s.AdjustClientCredits)

	v1.POST("/campaigns", s.CreateCampaign)
	v1.GET("/campaigns", s.ListCampaigns)
	v1.GET("/campaigns/:id", s.GetCampaignByID)

	v1.POST("/recipients", s.CreateRecipient)
	v1.GET("/recipients", s.ListRecipients)
	v1.GET("/recipients/:id", s.GetRecipientByID)

	v1.POST("/pricing", s.UpsertPricing)
	v1.GET("/pricing", s.ListPricing)
}
