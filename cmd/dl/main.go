package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dispatchline/internal/config"
	"dispatchline/internal/db"
	"dispatchline/internal/domain"
	"dispatchline/internal/migrate"
	"dispatchline/internal/repo"
	"dispatchline/internal/routing"
	"dispatchline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "dl",
	Short: "Dispatchline CLI",
	Long: `Dispatchline routes service requests to vendor organizations and designers.
Core concepts:
- Workspace: the .dispatchline directory holding the database; dispatchline.yml next to it configures routing defaults.
- Vendors: external organizations (plus optionally your in-house team) that fulfill service requests.
- Designers: people inside a vendor; requests can be routed down to a specific designer.
- Capacities: per service, how many requests a vendor or designer takes per day; auto-assign opt-in lives here.
- Rules: ordered by priority, they decide which vendors are considered for a request and which strategy picks one (least_loaded, round_robin, priority_first).
- Prices: a vendor needs an active price for a service to be routable; the internal vendor is exempt.
- Audit log: every routing decision is recorded, inspect it with 'dl audit tail' or 'dl request audit <id>'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DISPATCHLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(vendorCmd())
	rootCmd.AddCommand(designerCmd())
	rootCmd.AddCommand(ruleCmd())
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage workspace config",
		Long:  "dispatchline.yml holds the routing defaults: business timezone, default strategy, the internal vendor and webhook endpoints.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default dispatchline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func vendorCmd() *cobra.Command {
	vendor := &cobra.Command{
		Use:   "vendor",
		Short: "Manage vendors",
		Long:  "Vendors are the organizations requests are routed to. A vendor needs a capacity entry (with auto-assign on) and an active price for a service before the router will consider it.",
	}
	vendor.AddCommand(vendorCreateCmd())
	vendor.AddCommand(vendorListCmd())
	vendor.AddCommand(vendorShowCmd())
	vendor.AddCommand(vendorSetActiveCmd())
	vendor.AddCommand(vendorCapacityCmd())
	vendor.AddCommand(vendorPriceCmd())
	vendor.AddCommand(vendorDesignerCmd())
	return vendor
}

func vendorCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create vendor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				v := domain.Vendor{
					ID:        defaultID(id),
					Name:      name,
					Active:    true,
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertVendor(ctx, v); err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "vendor id (optional)")
	cmd.Flags().StringVar(&name, "name", "", "vendor name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func vendorListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List vendors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				vendors, err := r.ListVendors(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(vendors)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Active"})
				for _, v := range vendors {
					tw.AppendRow(table.Row{v.ID, v.Name, v.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func vendorShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show vendor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				v, err := r.GetVendor(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	return cmd
}

func vendorSetActiveCmd() *cobra.Command {
	var active bool
	cmd := &cobra.Command{
		Use:   "set-active <id>",
		Short: "Activate or deactivate a vendor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.SetVendorActive(ctx, args[0], active)
			})
		},
	}
	cmd.Flags().BoolVar(&active, "active", true, "active flag")
	return cmd
}

func vendorCapacityCmd() *cobra.Command {
	capacity := &cobra.Command{Use: "capacity", Short: "Manage vendor capacities"}
	capacity.AddCommand(vendorCapacitySetCmd())
	capacity.AddCommand(vendorCapacityListCmd())
	return capacity
}

func vendorCapacitySetCmd() *cobra.Command {
	var service string
	var daily int
	var autoAssign bool
	cmd := &cobra.Command{
		Use:   "set <vendor-id>",
		Short: "Set daily capacity for a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				now := time.Now().UTC().Format(time.RFC3339)
				c := domain.VendorCapacity{
					VendorID:      args[0],
					ServiceID:     service,
					DailyCapacity: daily,
					AutoAssign:    autoAssign,
					CreatedAt:     now,
					UpdatedAt:     now,
				}
				if err := r.UpsertVendorCapacity(ctx, c); err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&service, "service", "", "service id")
	cmd.Flags().IntVar(&daily, "daily", 0, "daily capacity")
	cmd.Flags().BoolVar(&autoAssign, "auto-assign", true, "eligible for automatic assignment")
	_ = cmd.MarkFlagRequired("service")
	_ = cmd.MarkFlagRequired("daily")
	return cmd
}

func vendorCapacityListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <vendor-id>",
		Short: "List vendor capacities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				caps, err := r.ListVendorCapacities(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(caps)
			})
		},
	}
	return cmd
}

func vendorPriceCmd() *cobra.Command {
	price := &cobra.Command{Use: "price", Short: "Manage vendor service prices"}
	price.AddCommand(vendorPriceSetCmd())
	price.AddCommand(vendorPriceListCmd())
	return price
}

func vendorPriceSetCmd() *cobra.Command {
	var service string
	var cents int64
	var active bool
	cmd := &cobra.Command{
		Use:   "set <vendor-id>",
		Short: "Set the price for a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				now := time.Now().UTC().Format(time.RFC3339)
				p := domain.ServicePrice{
					VendorID:   args[0],
					ServiceID:  service,
					PriceCents: cents,
					Active:     active,
					CreatedAt:  now,
					UpdatedAt:  now,
				}
				if err := r.UpsertServicePrice(ctx, p); err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&service, "service", "", "service id")
	cmd.Flags().Int64Var(&cents, "cents", 0, "price in cents")
	cmd.Flags().BoolVar(&active, "active", true, "active flag")
	_ = cmd.MarkFlagRequired("service")
	_ = cmd.MarkFlagRequired("cents")
	return cmd
}

func vendorPriceListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <vendor-id>",
		Short: "List vendor service prices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				prices, err := r.ListServicePrices(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(prices)
			})
		},
	}
	return cmd
}

func vendorDesignerCmd() *cobra.Command {
	designer := &cobra.Command{Use: "designer", Short: "Manage a vendor's designers"}
	designer.AddCommand(vendorDesignerAddCmd())
	designer.AddCommand(vendorDesignerListCmd())
	return designer
}

func vendorDesignerAddCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "add <vendor-id>",
		Short: "Add a designer to a vendor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetVendor(ctx, args[0]); err != nil {
					return err
				}
				d := domain.Designer{
					ID:        defaultID(id),
					VendorID:  args[0],
					Name:      name,
					Active:    true,
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertDesigner(ctx, d); err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "designer id (optional)")
	cmd.Flags().StringVar(&name, "name", "", "designer name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func vendorDesignerListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <vendor-id>",
		Short: "List a vendor's designers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				designers, err := r.ListDesigners(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(designers)
			})
		},
	}
	return cmd
}

func designerCmd() *cobra.Command {
	designer := &cobra.Command{
		Use:   "designer",
		Short: "Manage designers",
	}
	designer.AddCommand(designerSetActiveCmd())
	designer.AddCommand(designerCapacitySetCmd())
	designer.AddCommand(designerCapacityListCmd())
	return designer
}

func designerSetActiveCmd() *cobra.Command {
	var active bool
	cmd := &cobra.Command{
		Use:   "set-active <id>",
		Short: "Activate or deactivate a designer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.SetDesignerActive(ctx, args[0], active)
			})
		},
	}
	cmd.Flags().BoolVar(&active, "active", true, "active flag")
	return cmd
}

func designerCapacitySetCmd() *cobra.Command {
	var service string
	var daily, priority int
	var autoAssign, primary bool
	cmd := &cobra.Command{
		Use:   "capacity-set <designer-id>",
		Short: "Set a designer's daily capacity for a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				now := time.Now().UTC().Format(time.RFC3339)
				c := domain.DesignerCapacity{
					DesignerID:    args[0],
					ServiceID:     service,
					DailyCapacity: daily,
					AutoAssign:    autoAssign,
					IsPrimary:     primary,
					Priority:      priority,
					CreatedAt:     now,
					UpdatedAt:     now,
				}
				if err := r.UpsertDesignerCapacity(ctx, c); err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&service, "service", "", "service id")
	cmd.Flags().IntVar(&daily, "daily", 0, "daily capacity")
	cmd.Flags().BoolVar(&autoAssign, "auto-assign", true, "eligible for automatic assignment")
	cmd.Flags().BoolVar(&primary, "primary", false, "primary designer for this service")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority (higher wins with priority_first)")
	_ = cmd.MarkFlagRequired("service")
	_ = cmd.MarkFlagRequired("daily")
	return cmd
}

func designerCapacityListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capacity-list <designer-id>",
		Short: "List a designer's capacities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				caps, err := r.ListDesignerCapacities(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(caps)
			})
		},
	}
	return cmd
}

func ruleCmd() *cobra.Command {
	rule := &cobra.Command{
		Use:   "rule",
		Short: "Manage routing rules",
		Long:  "Rules decide how requests are routed. Evaluated by priority (highest first); the first rule whose criteria match and that yields a vendor with capacity wins.",
	}
	rule.AddCommand(ruleCreateCmd())
	rule.AddCommand(ruleListCmd())
	rule.AddCommand(ruleShowCmd())
	rule.AddCommand(ruleSetActiveCmd())
	rule.AddCommand(ruleDeleteCmd())
	return rule
}

func ruleCreateCmd() *cobra.Command {
	var id, name, scope, ownerVendor, target, strategy, clientEquals string
	var services, allowVendors, denyVendors []string
	var priority int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create routing rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			if scope == domain.RuleScopeVendor && ownerVendor == "" {
				return fmt.Errorf("--owner-vendor required for vendor scope")
			}
			var criteria []domain.Criterion
			if clientEquals != "" {
				criteria = append(criteria, domain.Criterion{Kind: domain.CriterionClientEquals, Value: clientEquals})
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				now := time.Now().UTC().Format(time.RFC3339)
				rule := domain.RoutingRule{
					ID:           defaultID(id),
					Name:         name,
					Scope:        scope,
					Active:       true,
					ServiceIDs:   services,
					Criteria:     criteria,
					Target:       target,
					Strategy:     strategy,
					AllowVendors: allowVendors,
					DenyVendors:  denyVendors,
					Priority:     priority,
					CreatedAt:    now,
					UpdatedAt:    now,
				}
				if ownerVendor != "" {
					rule.OwnerVendorID = &ownerVendor
				}
				if err := r.InsertRule(ctx, rule); err != nil {
					return err
				}
				return printJSONOrTable(rule)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "rule id (optional)")
	cmd.Flags().StringVar(&name, "name", "", "rule name")
	cmd.Flags().StringVar(&scope, "scope", domain.RuleScopeGlobal, "scope (global, vendor)")
	cmd.Flags().StringVar(&ownerVendor, "owner-vendor", "", "owning vendor for vendor scope")
	cmd.Flags().StringArrayVar(&services, "service", []string{}, "service id the rule applies to (repeatable; empty = all)")
	cmd.Flags().StringVar(&clientEquals, "client-equals", "", "match only requests from this client")
	cmd.Flags().StringVar(&target, "target", domain.TargetVendor, "target (vendor, vendor_designer)")
	cmd.Flags().StringVar(&strategy, "strategy", "", "strategy (least_loaded, round_robin, priority_first; empty = config default)")
	cmd.Flags().StringArrayVar(&allowVendors, "allow-vendor", []string{}, "restrict candidates to this vendor (repeatable)")
	cmd.Flags().StringArrayVar(&denyVendors, "deny-vendor", []string{}, "exclude this vendor (repeatable)")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority (higher evaluated first)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func ruleListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List routing rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rules, err := r.ListRules(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rules)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Priority", "Target", "Strategy", "Active"})
				for _, rule := range rules {
					tw.AppendRow(table.Row{rule.ID, rule.Name, rule.Priority, rule.Target, rule.Strategy, rule.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func ruleShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show routing rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rule, err := r.GetRule(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rule)
			})
		},
	}
	return cmd
}

func ruleSetActiveCmd() *cobra.Command {
	var active bool
	cmd := &cobra.Command{
		Use:   "set-active <id>",
		Short: "Activate or deactivate a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.SetRuleActive(ctx, args[0], active, time.Now().UTC().Format(time.RFC3339))
			})
		},
	}
	cmd.Flags().BoolVar(&active, "active", true, "active flag")
	return cmd
}

func ruleDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete routing rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteRule(ctx, args[0])
			})
		},
	}
	return cmd
}

func requestCmd() *cobra.Command {
	request := &cobra.Command{
		Use:   "request",
		Short: "Manage service requests",
		Long:  "Service requests are the work being routed. Creation runs the routing pipeline unless --no-auto is given; 'dl request route <id>' re-runs it later.",
	}
	request.AddCommand(requestCreateCmd())
	request.AddCommand(requestListCmd())
	request.AddCommand(requestShowCmd())
	request.AddCommand(requestRouteCmd())
	request.AddCommand(requestAssignCmd())
	request.AddCommand(requestLockCmd())
	request.AddCommand(requestAuditCmd())
	return request
}

func requestCreateCmd() *cobra.Command {
	var id, service, client, title string
	var noAuto bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a service request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, r repo.Repo, eng *routing.Engine) error {
				now := time.Now().UTC().Format(time.RFC3339)
				req := domain.ServiceRequest{
					ID:               defaultID(id),
					ServiceID:        service,
					ClientID:         client,
					Title:            title,
					Status:           domain.RequestStatusNew,
					AutoAssignStatus: domain.AutoAssignNotAttempted,
					CreatedAt:        now,
					UpdatedAt:        now,
				}
				if err := r.InsertRequest(ctx, req); err != nil {
					return err
				}
				if noAuto {
					return printJSONOrTable(req)
				}
				updated, res, err := eng.RouteAndApply(ctx, req)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"request": updated, "result": res})
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "request id (optional)")
	cmd.Flags().StringVar(&service, "service", "", "service id")
	cmd.Flags().StringVar(&client, "client", "", "client id")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().BoolVar(&noAuto, "no-auto", false, "skip automatic assignment")
	_ = cmd.MarkFlagRequired("service")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func requestListCmd() *cobra.Command {
	var f repo.RequestFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List service requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				requests, err := r.ListRequests(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(requests)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Service", "Client", "Status", "Vendor", "Designer", "Auto"})
				for _, req := range requests {
					tw.AppendRow(table.Row{
						req.ID, req.ServiceID, req.ClientID, req.Status,
						strOrDash(req.VendorID), strOrDash(req.DesignerID), req.AutoAssignStatus,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ServiceID, "service", "", "service filter")
	cmd.Flags().StringVar(&f.ClientID, "client", "", "client filter")
	cmd.Flags().StringVar(&f.VendorID, "vendor", "", "vendor filter")
	cmd.Flags().StringVar(&f.DesignerID, "designer", "", "designer filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func requestShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show service request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				req, err := r.GetRequest(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(req)
			})
		},
	}
	return cmd
}

func requestRouteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "route <id>",
		Short: "Run the routing pipeline for a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, r repo.Repo, eng *routing.Engine) error {
				req, err := r.GetRequest(ctx, args[0])
				if err != nil {
					return err
				}
				updated, res, err := eng.RouteAndApply(ctx, req)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"request": updated, "result": res})
			})
		},
	}
	return cmd
}

func requestAssignCmd() *cobra.Command {
	var vendor, designer string
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Manually assign a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if vendor == "" && designer == "" {
				return fmt.Errorf("--vendor or --designer required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				req, err := r.GetRequest(ctx, args[0])
				if err != nil {
					return err
				}
				if req.AssignmentLocked {
					return fmt.Errorf("request assignment is locked")
				}
				updated, err := r.ManualAssign(ctx, args[0], optionalString(vendor), optionalString(designer), time.Now().UTC().Format(time.RFC3339))
				if err != nil {
					return err
				}
				return printJSONOrTable(updated)
			})
		},
	}
	cmd.Flags().StringVar(&vendor, "vendor", "", "vendor id")
	cmd.Flags().StringVar(&designer, "designer", "", "designer id")
	return cmd
}

func requestLockCmd() *cobra.Command {
	var unlock bool
	cmd := &cobra.Command{
		Use:   "lock <id>",
		Short: "Lock or unlock a request's assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.SetRequestLock(ctx, args[0], !unlock, time.Now().UTC().Format(time.RFC3339))
			})
		},
	}
	cmd.Flags().BoolVar(&unlock, "unlock", false, "remove the lock instead")
	return cmd
}

func requestAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit <id>",
		Short: "Show a request's routing audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				entries, err := r.ListAuditEntries(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Step", "Outcome", "Rule", "Chosen", "Reason"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.ID, e.Step, e.Outcome, strOrDash(e.RuleID), strOrDash(e.ChosenID), e.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func auditCmd() *cobra.Command {
	audit := &cobra.Command{
		Use:   "audit",
		Short: "Routing audit log",
	}
	audit.AddCommand(auditTailCmd())
	return audit
}

func auditTailCmd() *cobra.Command {
	var n int
	var outcome string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				latest, err := r.LatestAuditID(ctx)
				if err != nil {
					return err
				}
				cursor := latest - int64(n)
				if cursor < 0 {
					cursor = 0
				}
				var outcomes []string
				if outcome != "" {
					outcomes = strings.Split(outcome, ",")
				}
				entries, err := r.AuditEntriesAfter(ctx, n, cursor, outcomes)
				if err != nil {
					return err
				}
				return printJSONOrTable(entries)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	cmd.Flags().StringVar(&outcome, "outcome", "", "comma separated outcome filter")
	return cmd
}

func keyCmd() *cobra.Command {
	key := &cobra.Command{
		Use:   "key",
		Short: "Manage API keys",
		Long:  "API keys authenticate callers of the HTTP API via the X-Api-Key header. Keys are stored hashed; the plaintext is printed once at creation.",
	}
	key.AddCommand(keyCreateCmd())
	key.AddCommand(keyListCmd())
	key.AddCommand(keyDeleteCmd())
	return key
}

func keyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				plaintext := uuid.New().String() + uuid.New().String()
				key := domain.APIKey{
					ID:        uuid.New().String(),
					ActorID:   actor,
					Name:      name,
					KeyHash:   repo.HashAPIKey(plaintext),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": key.ActorID, "key": plaintext})
				}
				fmt.Printf("Created key %s for %s\n", key.ID, key.ActorID)
				fmt.Printf("API key (save it, it is not stored): %s\n", plaintext)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func keyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func keyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			eng := routing.New(r, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("DISPATCHLINE_JWT_SECRET"),
				AllowLegacyActorHeader: cfg.Auth.AllowLegacyActorHeader,
			}
			if authCfg.JWTSecret == "" {
				authCfg.JWTSecret = cfg.Auth.JWTSecret
			}
			handler, err := server.New(server.Config{
				Repo:      r,
				Engine:    eng,
				AppConfig: cfg,
				BasePath:  basePath,
				Auth:      authCfg,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Dispatchline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, repo.Repo, *routing.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r, routing.New(r, cfg))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func defaultID(id string) string {
	if id != "" {
		return id
	}
	return uuid.New().String()
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func strOrDash(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
