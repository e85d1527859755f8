package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"shopline/internal/app"
	"shopline/internal/catalog"
	"shopline/internal/db"
	"shopline/internal/domain"
	"shopline/internal/engine"
	"shopline/internal/report"
	"shopline/internal/repo"
	"shopline/internal/server"
	"shopline/internal/subcontract"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Shopline CLI",
	Long: `Shopline schedules shop-floor work for a plant.
- Manufacturing order (MO): a request to make a quantity of one product. Confirm it before scheduling.
- Work order (WO): a slice of an MO's quantity run through a routing. Generated from pending MO quantity;
  statuses go draft -> scheduled -> in_progress <-> paused -> completed (cancelled from any open status).
- Material issue order: created when a WO starts; one line per BOM material, issued in parts or all at once.
- Subcontracting: operations on external work centers are handed off with 'sl subcontract send'.
- Catalog: routings, BOMs and work centers, loaded with 'sl catalog import'.
- Event log: every change, view with 'sl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return app.LoadEnv(workspace)
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func initConfig() {
	viper.SetEnvPrefix("SHOPLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("log-level", "", "override log.level from plant.yml")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(moCmd())
	rootCmd.AddCommand(woCmd())
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(subcontractCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
}

func initCmd() *cobra.Command {
	var plantID string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create plant.yml and the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := app.Init(viper.GetString("workspace"), plantID, force)
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if viper.GetBool("json") {
					return printJSON(map[string]string{"config": path, "database": db.Path(ws.Dir)})
				}
				fmt.Printf("Initialized plant %s\n  config:   %s\n  database: %s\n", ws.Config.Plant.ID, path, db.Path(ws.Dir))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&plantID, "plant-id", "", "plant id")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing plant.yml")
	_ = cmd.MarkFlagRequired("plant-id")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect plant config",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				return printJSON(ws.Config)
			})
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate plant.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				return ws.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	return cfg
}

func moCmd() *cobra.Command {
	mo := &cobra.Command{Use: "mo", Short: "Manage manufacturing orders"}
	mo.AddCommand(moCreateCmd())
	mo.AddCommand(moListCmd())
	mo.AddCommand(moShowCmd())
	mo.AddCommand(&cobra.Command{
		Use:   "confirm <mo>",
		Short: "Confirm a draft MO",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.ConfirmManufacturingOrder(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printMOs(m)
			})
		},
	})
	mo.AddCommand(&cobra.Command{
		Use:   "cancel <mo>",
		Short: "Cancel an MO and its open work orders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.CancelManufacturingOrder(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printMOs(m)
			})
		},
	})
	return mo
}

func moCreateCmd() *cobra.Command {
	var opts engine.MOCreateOptions
	var qty, source string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft MO",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := parseQuantity("quantity", qty)
			if err != nil {
				return err
			}
			opts.Quantity = q
			opts.Source = domain.MOSource(source)
			opts.ActorID = actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.CreateManufacturingOrder(ctx, opts)
				if err != nil {
					return err
				}
				return printMOs(m)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ProductID, "product", "", "product id")
	cmd.Flags().StringVar(&qty, "quantity", "", "quantity to produce")
	cmd.Flags().StringVar(&opts.UnitID, "unit", "", "unit of measure")
	cmd.Flags().StringVar(&opts.BOMID, "bom", "", "bill of materials id")
	cmd.Flags().StringVar(&opts.RoutingID, "routing", "", "routing id")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.PlannedStart, "planned-start", "", "planned start")
	cmd.Flags().StringVar(&opts.PlannedFinish, "planned-finish", "", "planned finish")
	cmd.Flags().StringVar(&source, "source", "manual", "sales_order, production_plan or manual")
	cmd.Flags().StringVar(&opts.SourceRef, "source-ref", "", "reference in the source document")
	_ = cmd.MarkFlagRequired("product")
	_ = cmd.MarkFlagRequired("quantity")
	return cmd
}

func moListCmd() *cobra.Command {
	var f repo.MOFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List MOs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListManufacturingOrders(ctx, f)
				if err != nil {
					return err
				}
				return printMOs(items...)
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.ProductID, "product", "", "product filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 100, "max rows")
	return cmd
}

func moShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <mo>",
		Short: "Show an MO with its work orders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.Repo.GetManufacturingOrder(ctx, args[0])
				if err != nil {
					return err
				}
				wos, err := e.Repo.ListWorkOrders(ctx, repo.WOFilters{MOID: m.ID})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"manufacturing_order": m, "work_orders": wos})
				}
				if err := printMOs(m); err != nil {
					return err
				}
				return printWorkOrders(wos...)
			})
		},
	}
}

func woCmd() *cobra.Command {
	wo := &cobra.Command{Use: "wo", Short: "Manage work orders"}
	wo.AddCommand(woGenerateCmd())
	wo.AddCommand(woListCmd())
	wo.AddCommand(woPlanCmd())
	wo.AddCommand(&cobra.Command{
		Use:   "show <wo>",
		Short: "Show a work order with operations and materials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.Repo.GetWorkOrder(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(w)
				}
				if err := printWorkOrders(w); err != nil {
					return err
				}
				ops := newTable("Seq", "Operation", "Work center", "Owner", "Subcontract")
				for _, op := range w.Operations {
					cur := ""
					if op.Sequence == w.Sequence {
						cur = " *"
					}
					ops.AppendRow(table.Row{fmt.Sprintf("%d%s", op.Sequence, cur), op.OperationID, op.WorkCenterID, op.OwnerID, op.NeedsSubcontracting})
				}
				ops.Render()
				return printMaterialLines(w.Materials)
			})
		},
	})
	wo.AddCommand(&cobra.Command{
		Use:   "transition <wo> <event>",
		Short: "Apply schedule, start, pause, resume, cancel or complete",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.TransitionWorkOrder(ctx, args[0], domain.WOEvent(args[1]), actorID())
				if err != nil {
					return err
				}
				return printWorkOrders(w)
			})
		},
	})
	wo.AddCommand(&cobra.Command{
		Use:   "cancel <wo>",
		Short: "Cancel a work order and release its MO quantity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.CancelWorkOrder(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printWorkOrders(w)
			})
		},
	})
	wo.AddCommand(&cobra.Command{
		Use:   "advance <wo>",
		Short: "Move to the next routing operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.AdvanceOperation(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printWorkOrders(w)
			})
		},
	})
	wo.AddCommand(&cobra.Command{
		Use:   "history <wo>",
		Short: "Show lifecycle transitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.WorkOrderHistory(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Version", "Event", "From", "To", "Actor", "At")
				for _, t := range items {
					tw.AppendRow(table.Row{t.Version, t.Event, t.From, t.To, t.ActorID, t.TS})
				}
				tw.Render()
				return nil
			})
		},
	})
	return wo
}

func woGenerateCmd() *cobra.Command {
	var opts engine.GenerateOptions
	var qty, batch string
	var assign []string
	cmd := &cobra.Command{
		Use:   "generate <mo>",
		Short: "Generate work orders from an MO's pending quantity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := parseQuantity("quantity", qty)
			if err != nil {
				return err
			}
			if batch != "" {
				if opts.BatchSize, err = parseQuantity("batch-size", batch); err != nil {
					return err
				}
			}
			if opts.Assignments, err = parseAssignments(assign); err != nil {
				return err
			}
			opts.MOID = args[0]
			opts.Quantity = q
			opts.ActorID = actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				wos, err := e.GenerateWorkOrders(ctx, opts)
				if err != nil {
					return err
				}
				return printWorkOrders(wos...)
			})
		},
	}
	cmd.Flags().StringVar(&qty, "quantity", "", "quantity to schedule")
	cmd.Flags().StringArrayVar(&assign, "assign", nil, "operation assignment OP=WORKCENTER[:OWNER], repeatable")
	cmd.Flags().StringVar(&opts.PlannedStart, "planned-start", "", "planned start")
	cmd.Flags().StringVar(&opts.PlannedFinish, "planned-finish", "", "planned finish")
	cmd.Flags().StringVar(&opts.IssuingWarehouseID, "warehouse", "", "issuing warehouse")
	cmd.Flags().IntVar(&opts.SequenceStart, "seq-start", 0, "first routing sequence")
	cmd.Flags().IntVar(&opts.SequenceEnd, "seq-end", 0, "last routing sequence")
	cmd.Flags().StringVar(&batch, "batch-size", "", "split into work orders of at most this quantity")
	_ = cmd.MarkFlagRequired("quantity")
	return cmd
}

func woListCmd() *cobra.Command {
	var f repo.WOFilters
	var mo, sub string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch sub {
			case "":
			case "true", "false":
				v := sub == "true"
				f.NeedsSubcontracting = &v
			default:
				return fmt.Errorf("--subcontract must be true or false")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if mo != "" {
					m, err := e.Repo.GetManufacturingOrder(ctx, mo)
					if err != nil {
						return err
					}
					f.MOID = m.ID
				}
				items, err := e.Repo.ListWorkOrders(ctx, f)
				if err != nil {
					return err
				}
				return printWorkOrders(items...)
			})
		},
	}
	cmd.Flags().StringVar(&mo, "mo", "", "MO id or number")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&sub, "subcontract", "", "true or false")
	cmd.Flags().IntVar(&f.Limit, "limit", 100, "max rows")
	return cmd
}

func woPlanCmd() *cobra.Command {
	var start, finish, warehouse string
	cmd := &cobra.Command{
		Use:   "plan <wo>",
		Short: "Set planned window and issuing warehouse",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upd := engine.PlanUpdate{ActorID: actorID()}
			if cmd.Flags().Changed("planned-start") {
				upd.PlannedStart = &start
			}
			if cmd.Flags().Changed("planned-finish") {
				upd.PlannedFinish = &finish
			}
			if cmd.Flags().Changed("warehouse") {
				upd.IssuingWarehouseID = &warehouse
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.UpdateWorkOrderPlan(ctx, args[0], upd)
				if err != nil {
					return err
				}
				return printWorkOrders(w)
			})
		},
	}
	cmd.Flags().StringVar(&start, "planned-start", "", "planned start")
	cmd.Flags().StringVar(&finish, "planned-finish", "", "planned finish")
	cmd.Flags().StringVar(&warehouse, "warehouse", "", "issuing warehouse")
	return cmd
}

func issueCmd() *cobra.Command {
	is := &cobra.Command{Use: "issue", Short: "Issue material against work orders"}
	var qty string
	item := &cobra.Command{
		Use:   "item <issue-order> <item-id>",
		Short: "Issue quantity against one material line",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := parseQuantity("quantity", qty)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				order, err := e.IssueMaterialItem(ctx, args[0], args[1], q, actorID())
				if err != nil {
					return err
				}
				return printIssueOrder(order)
			})
		},
	}
	item.Flags().StringVar(&qty, "quantity", "", "quantity to issue")
	_ = item.MarkFlagRequired("quantity")
	is.AddCommand(item)
	is.AddCommand(&cobra.Command{
		Use:   "all <wo>",
		Short: "Issue every pending line of a work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				order, err := e.IssueAllMaterial(ctx, args[0], actorID())
				var partial *engine.IssueAllError
				if errors.As(err, &partial) {
					if perr := printIssueOrder(order); perr != nil {
						return perr
					}
					return err
				}
				if err != nil {
					return err
				}
				return printIssueOrder(order)
			})
		},
	})
	is.AddCommand(&cobra.Command{
		Use:   "show <issue-order|wo>",
		Short: "Show an issue order by its id, number or work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				order, err := lookupIssueOrder(ctx, e.Repo, args[0])
				if err != nil {
					return err
				}
				return printIssueOrder(order)
			})
		},
	})
	is.AddCommand(&cobra.Command{
		Use:   "list <issue-order|wo>",
		Short: "List ledger entries of an issue order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				order, err := lookupIssueOrder(ctx, e.Repo, args[0])
				if err != nil {
					return err
				}
				entries, err := e.Repo.ListMaterialIssues(ctx, order.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				materials := map[string]string{}
				for _, it := range order.Items {
					materials[it.ID] = it.MaterialID
				}
				tw := newTable("At", "Material", "Line", "Quantity", "Actor")
				for _, mi := range entries {
					tw.AppendRow(table.Row{mi.IssuedAt, materials[mi.LineID], mi.LineID, mi.Quantity.String(), mi.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	})
	return is
}

func lookupIssueOrder(ctx context.Context, r repo.Repo, ref string) (domain.MaterialIssueOrder, error) {
	order, err := r.GetIssueOrder(ctx, ref)
	if !errors.Is(err, repo.ErrNotFound) {
		return order, err
	}
	wo, werr := r.GetWorkOrder(ctx, ref)
	if werr != nil {
		return order, fmt.Errorf("issue order %s: %w", ref, err)
	}
	return r.GetIssueOrderByWorkOrder(ctx, wo.ID)
}

func subcontractCmd() *cobra.Command {
	sc := &cobra.Command{Use: "subcontract", Short: "Hand off subcontracted operations"}
	sc.AddCommand(&cobra.Command{
		Use:   "check <wo>",
		Short: "Report whether a work order has subcontracted operations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				needs, err := e.NeedsSubcontracting(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"work_order": args[0], "needs_subcontracting": needs})
				}
				fmt.Println(needs)
				return nil
			})
		},
	})
	sc.AddCommand(&cobra.Command{
		Use:   "send <wo>...",
		Short: "Send flagged work orders to the subcontracting workflow",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				h, err := e.GenerateSubcontractOrder(ctx, args, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(h)
				}
				fmt.Printf("Handed off %d work order(s) via %s: %s\n", len(h.WorkOrderIDs), h.Channel, h.Reference)
				return nil
			})
		},
	})
	var ack string
	var limit int
	outbox := &cobra.Command{
		Use:   "outbox",
		Short: "List pending outbox hand-offs, or acknowledge one with --ack",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ob := subcontract.NewOutbox(e.Repo)
				if ack != "" {
					if err := ob.Ack(ctx, ack); err != nil {
						return fmt.Errorf("ack %s: %w", ack, err)
					}
					fmt.Printf("acknowledged %s\n", ack)
					return nil
				}
				pending, err := ob.Pending(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(pending)
				}
				tw := newTable("Reference", "Requested", "Actor", "Work orders")
				for _, req := range pending {
					numbers := make([]string, 0, len(req.WorkOrders))
					for _, w := range req.WorkOrders {
						numbers = append(numbers, w.WorkOrderNumber)
					}
					tw.AppendRow(table.Row{req.ID, req.RequestedAt, req.ActorID, strings.Join(numbers, ",")})
				}
				tw.Render()
				return nil
			})
		},
	}
	outbox.Flags().StringVar(&ack, "ack", "", "mark a hand-off reference delivered")
	outbox.Flags().IntVar(&limit, "limit", 50, "max rows")
	sc.AddCommand(outbox)
	return sc
}

func catalogCmd() *cobra.Command {
	cat := &cobra.Command{Use: "catalog", Short: "Manage routings, BOMs and work centers"}
	var file string
	imp := &cobra.Command{
		Use:   "import",
		Short: "Import catalog.yml into the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := catalog.FromFile(file)
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				stats, err := catalog.SQLCatalog{DB: ws.DB}.Import(ctx, f)
				if err != nil {
					return err
				}
				ws.Logger.Info("catalog.imported", zap.String("file", file), zap.Int("routings", stats.Routings), zap.Int("boms", stats.BOMs), zap.Int("work_centers", stats.WorkCenters))
				if viper.GetBool("json") {
					return printJSON(stats)
				}
				fmt.Printf("imported %d work centers, %d routings, %d BOMs\n", stats.WorkCenters, stats.Routings, stats.BOMs)
				return nil
			})
		},
	}
	imp.Flags().StringVar(&file, "file", "catalog.yml", "catalog file")
	cat.AddCommand(imp)
	return cat
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	var follow bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListEvents(ctx, f)
				if err != nil {
					return err
				}
				for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
					items[i], items[j] = items[j], items[i]
				}
				printEvents(items)
				if !follow {
					return nil
				}
				last, err := e.Repo.LatestEventID(ctx)
				if err != nil {
					return err
				}
				tick := time.NewTicker(time.Second)
				defer tick.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-tick.C:
					}
					next := f
					next.After = last
					items, err := e.Repo.ListEvents(ctx, next)
					if err != nil {
						return err
					}
					printEvents(items)
					if len(items) > 0 {
						last = items[len(items)-1].ID
					}
				}
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep polling for new events")
	return cmd
}

func printEvents(items []domain.Event) {
	for _, evt := range items {
		if viper.GetBool("json") {
			b, _ := json.Marshal(evt)
			fmt.Println(string(b))
			continue
		}
		fmt.Printf("%6d  %s  %-22s %-22s %s  %s\n", evt.ID, evt.TS, evt.Type, evt.EntityKind, evt.ActorID, evt.Payload)
	}
}

func exportCmd() *cobra.Command {
	var out string
	var f report.Filters
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export MOs, work orders and material requirements to an xlsx workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.MOID != "" {
					m, err := e.Repo.GetManufacturingOrder(ctx, f.MOID)
					if err != nil {
						return err
					}
					f.MOID = m.ID
				}
				fh, err := os.Create(out)
				if err != nil {
					return err
				}
				if err := report.Write(ctx, fh, e.Repo, f); err != nil {
					fh.Close()
					return err
				}
				if err := fh.Close(); err != nil {
					return err
				}
				fmt.Printf("wrote %s\n", out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "shopline.xlsx", "output file")
	cmd.Flags().StringVar(&f.MOID, "mo", "", "only this MO (id or number)")
	cmd.Flags().StringVar(&f.Status, "status", "", "only work orders in this status")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin, legacyHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if addr == "" {
					addr = ws.Config.Server.Addr
				}
				if basePath == "" {
					basePath = ws.Config.Server.BasePath
				}
				authCfg := server.AuthConfig{
					JWTSecret:              viper.GetString("jwt-secret"),
					AllowLegacyActorHeader: legacyHeader,
					DevLogin:               devLogin,
				}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("SHOPLINE_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{Engine: ws.Engine, BasePath: basePath, Auth: authCfg, Logger: ws.Logger})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				ws.Logger.Info("serving",
					zap.String("addr", addr),
					zap.String("base_path", basePath),
					zap.String("plant", ws.Config.Plant.ID),
					zap.String("subcontract", ws.Engine.Subcontract.Channel()))
				fmt.Printf("Serving Shopline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default server.base_path)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login")
	cmd.Flags().BoolVar(&legacyHeader, "allow-actor-header", false, "accept X-Actor-Id without a token (dev only)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var perms []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := server.SignToken(viper.GetString("jwt-secret"), actorID(), perms, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&perms, "perm", []string{server.PermWrite}, "permissions (mes.read, mes.write, *)")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}

// --- helpers ---

func actorID() string {
	return viper.GetString("actor-id")
}

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	var logger *zap.Logger
	if lvl := viper.GetString("log-level"); lvl != "" {
		l, err := app.NewLogger(lvl, "console")
		if err != nil {
			return err
		}
		logger = l
	}
	ws, err := app.Open(ctx, viper.GetString("workspace"), logger)
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withWorkspace(ctx, func(ctx context.Context, ws *app.Workspace) error {
		return fn(ctx, ws.Engine)
	})
}

func parseQuantity(flag, raw string) (decimal.Decimal, error) {
	q, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("--%s: %q is not a decimal quantity", flag, raw)
	}
	return q, nil
}

// parseAssignments reads OP=WORKCENTER[:OWNER] pairs. Either side of the colon may be empty.
func parseAssignments(raw []string) ([]domain.OperationAssignment, error) {
	res := make([]domain.OperationAssignment, 0, len(raw))
	for _, r := range raw {
		op, rest, ok := strings.Cut(r, "=")
		if !ok || strings.TrimSpace(op) == "" {
			return nil, fmt.Errorf("--assign %q: expected OP=WORKCENTER[:OWNER]", r)
		}
		wc, owner, _ := strings.Cut(rest, ":")
		res = append(res, domain.OperationAssignment{
			OperationID:  strings.TrimSpace(op),
			WorkCenterID: strings.TrimSpace(wc),
			OwnerID:      strings.TrimSpace(owner),
		})
	}
	return res, nil
}

func exitCode(err error) int {
	code := engine.CodeOf(err)
	if code == "" {
		return 1
	}
	switch code.Category() {
	case engine.CategoryValidation:
		return 2
	case engine.CategoryState:
		return 3
	case engine.CategoryCapacity:
		return 4
	case engine.CategoryReference:
		return 5
	}
	return 1
}

func newTable(headers ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(headers))
	return tw
}

func printMOs(items ...domain.ManufacturingOrder) error {
	if viper.GetBool("json") {
		if len(items) == 1 {
			return printJSON(items[0])
		}
		return printJSON(items)
	}
	tw := newTable("Number", "Product", "Quantity", "Scheduled", "Pending", "Status", "BOM", "Routing")
	for _, m := range items {
		tw.AppendRow(table.Row{m.Number, m.ProductID, m.Quantity.String(), m.ScheduledQuantity.String(), m.PendingQuantity().String(), m.Status, m.BOMID, m.RoutingID})
	}
	tw.Render()
	return nil
}

func printWorkOrders(items ...domain.WorkOrder) error {
	if viper.GetBool("json") {
		if len(items) == 1 {
			return printJSON(items[0])
		}
		return printJSON(items)
	}
	tw := newTable("Number", "ID", "Quantity", "Status", "Seq", "Planned", "Warehouse", "Subcontract")
	for _, w := range items {
		planned := ""
		if w.PlannedStart != "" || w.PlannedFinish != "" {
			planned = w.PlannedStart + ".." + w.PlannedFinish
		}
		tw.AppendRow(table.Row{w.Number, w.ID, w.Quantity.String(), w.Status, w.Sequence, planned, w.IssuingWarehouseID, w.NeedsSubcontracting})
	}
	tw.Render()
	return nil
}

func printMaterialLines(lines []domain.MaterialLine) error {
	tw := newTable("Item", "Material", "Unit", "Required", "Issued", "Pending")
	for _, l := range lines {
		tw.AppendRow(table.Row{l.ID, l.MaterialID, l.UnitID, l.RequiredQuantity.String(), l.IssuedQuantity.String(), l.PendingQuantity().String()})
	}
	tw.Render()
	return nil
}

func printIssueOrder(o domain.MaterialIssueOrder) error {
	if viper.GetBool("json") {
		return printJSON(o)
	}
	fmt.Printf("%s (%s) status=%s warehouse=%s\n", o.Number, o.ID, o.Status, o.WarehouseID)
	return printMaterialLines(o.Items)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
