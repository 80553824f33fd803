package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lotopoints/backend/api/controllers"
	"github.com/lotopoints/backend/api/middleware"
	"github.com/lotopoints/backend/internal/bets"
	"github.com/lotopoints/backend/internal/ledger"
	"github.com/lotopoints/backend/internal/payout"
	"github.com/lotopoints/backend/internal/results"
	"github.com/lotopoints/backend/internal/settlement"
	"github.com/lotopoints/backend/internal/transfer"
	"github.com/lotopoints/backend/pkg/config"
	"github.com/lotopoints/backend/pkg/db"
	"github.com/lotopoints/backend/pkg/logger"
	"github.com/lotopoints/backend/pkg/redis"
)

// Services bundles the domain services the router exposes.
type Services struct {
	Ledger     ledger.Service
	Transfer   transfer.Service
	Bets       bets.Service
	Results    results.Service
	Settlement settlement.Service
	Payout     payout.Service
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	svcs Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
		r.Get("/results", controllers.ResultList(svcs.Results, logg))
		r.Get("/results/{resultId}", controllers.ResultDetail(svcs.Results, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Actor())
		r.Get("/ping", controllers.PrivatePing())

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/{accountId}", controllers.AccountDetail(svcs.Ledger, logg))
			r.Get("/{accountId}/transactions", controllers.AccountTransactions(svcs.Ledger, logg))
		})

		r.Route("/transfers", func(r chi.Router) {
			r.Post("/", controllers.TransferCreate(svcs.Transfer, logg))
			r.Post("/deposit-requests", controllers.RequestDeposit(svcs.Transfer, logg))
			r.Post("/withdraw-requests", controllers.RequestWithdraw(svcs.Transfer, logg))
		})

		r.Route("/bets", func(r chi.Router) {
			r.Post("/", controllers.BetPlace(svcs.Bets, logg))
			r.Get("/", controllers.BetList(svcs.Bets, logg))
			r.Get("/{betId}", controllers.BetDetail(svcs.Bets, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Actor())
		r.Get("/ping", controllers.AdminPing())

		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", controllers.AccountCreate(svcs.Ledger, logg))
			r.Get("/lookup", controllers.AccountLookup(svcs.Ledger, logg))
		})

		r.Route("/money-requests", func(r chi.Router) {
			r.Get("/", controllers.AdminPendingRequests(svcs.Transfer, logg))
			r.Post("/{transactionId}/decision", controllers.AdminProcessRequest(svcs.Transfer, logg))
		})

		r.Route("/results", func(r chi.Router) {
			r.Post("/", controllers.ResultIngest(svcs.Results, logg))
			r.Put("/{resultId}", controllers.ResultUpdate(svcs.Results, logg))
			r.Delete("/{resultId}", controllers.ResultDelete(svcs.Results, logg))
			r.Post("/{resultId}/settle", controllers.SettlementRun(svcs.Settlement, logg))
			r.Post("/{resultId}/reverse", controllers.SettlementReverse(svcs.Settlement, logg))
		})

		r.Route("/payouts", func(r chi.Router) {
			r.Post("/{betId}/approve", controllers.PayoutApprove(svcs.Payout, logg))
			r.Post("/{betId}/reject", controllers.PayoutReject(svcs.Payout, logg))
			r.Post("/{betId}/confirm", controllers.PayoutConfirm(svcs.Payout, logg))
			r.Route("/requests", func(r chi.Router) {
				r.Get("/", controllers.PayoutRequestList(svcs.Payout, logg))
				r.Post("/", controllers.PayoutRequestCreate(svcs.Payout, logg))
				r.Post("/{requestId}/decision", controllers.PayoutRequestProcess(svcs.Payout, logg))
			})
		})
	})

	return r
}
