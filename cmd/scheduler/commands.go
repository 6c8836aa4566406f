package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/example/room-scheduler/internal/application"
	"github.com/example/room-scheduler/internal/occurrence"
	"github.com/example/room-scheduler/internal/persistence/store"
)

type command struct {
	name    string
	summary string
	// skipMigrate leaves the schema untouched before run.
	skipMigrate bool
	run         func(ctx context.Context, env *environment, args []string) error
}

var commands = []command{
	{name: "migrate", summary: "apply schema migrations or report their status", skipMigrate: true, run: runMigrate},
	{name: "room create", summary: "create a room", run: runRoomCreate},
	{name: "room list", summary: "list rooms", run: runRoomList},
	{name: "room delete", summary: "delete a room", run: runRoomDelete},
	{name: "reservation create", summary: "create a reservation", run: runReservationCreate},
	{name: "reservation update", summary: "update a reservation", run: runReservationUpdate},
	{name: "reservation show", summary: "show a reservation and its room conflicts", run: runReservationShow},
	{name: "reservation delete", summary: "delete a reservation and its exceptions", run: runReservationDelete},
	{name: "occurrences", summary: "list occurrences in a window", run: runOccurrences},
	{name: "upcoming", summary: "list the next occurrences after an instant", run: runUpcoming},
	{name: "cancelled", summary: "list cancelled occurrences in a window", run: runCancelled},
	{name: "move", summary: "move one occurrence", run: runMove},
	{name: "cancel", summary: "cancel one occurrence", run: runCancel},
	{name: "uncancel", summary: "restore a cancelled occurrence", run: runUncancel},
	{name: "busy", summary: "report whether a room has occurrences in a window", run: runBusy},
}

func newFlagSet(env *environment, name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return usageErrorf("%s: unexpected arguments: %s", fs.Name(), strings.Join(fs.Args(), " "))
	}
	return nil
}

// timeFlag parses RFC 3339 instants.
type timeFlag struct {
	value *time.Time
}

func (f *timeFlag) String() string {
	if f == nil || f.value == nil {
		return ""
	}
	return f.value.Format(time.RFC3339)
}

func (f *timeFlag) Set(raw string) error {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("expected an RFC 3339 time such as 2008-01-05T08:00:00Z")
	}
	f.value = &t
	return nil
}

func (f *timeFlag) get() time.Time {
	if f.value == nil {
		return time.Time{}
	}
	return *f.value
}

func requireFlag(fs *flag.FlagSet, name string, present bool) error {
	if !present {
		return usageErrorf("%s: -%s is required", fs.Name(), name)
	}
	return nil
}

func runMigrate(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet(env, "migrate")
	status := fs.Bool("status", false, "report migration status without applying")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	if !*status {
		if err := env.store.Migrate(ctx); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		env.logger.Info("database migrations completed successfully", "backend", store.Kind(env.cfg.DatabaseDSN))
	}

	states, err := env.store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	if len(states) == 0 {
		fmt.Fprintln(env.stdout, "no versioned migrations for this backend")
		return nil
	}

	tw := tabwriter.NewWriter(env.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSTATE\tAPPLIED AT")
	for _, state := range states {
		label, appliedAt := "pending", "-"
		if state.Applied {
			label = "applied"
			appliedAt = formatTime(state.AppliedAt)
		}
		fmt.Fprintf(tw, "%05d\t%s\t%s\n", state.Version, label, appliedAt)
	}
	return tw.Flush()
}

func runRoomCreate(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet(env, "room create")
	name := fs.String("name", "", "room name")
	location := fs.String("location", "", "room location")
	capacity := fs.Int("capacity", 0, "number of seats")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	room, err := env.rooms.CreateRoom(ctx, application.RoomInput{Name: *name, Location: *location, Capacity: *capacity})
	if err != nil {
		return err
	}
	fmt.Fprintln(env.stdout, room.ID)
	return nil
}

func runRoomList(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet(env, "room list")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	rooms, err := env.rooms.ListRooms(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(env.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tLOCATION\tCAPACITY")
	for _, room := range rooms {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", room.ID, room.Name, room.Location, room.Capacity)
	}
	return tw.Flush()
}

func runRoomDelete(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet(env, "room delete")
	id := fs.String("id", "", "room ID")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag(fs, "id", *id != ""); err != nil {
		return err
	}
	return env.rooms.DeleteRoom(ctx, *id)
}

// reservationFlags are shared by reservation create and update.
type reservationFlags struct {
	title        string
	room         string
	start        timeFlag
	end          timeFlag
	rrule        string
	frequency    string
	interval     int
	count        int
	until        timeFlag
	endRecurring timeFlag
}

func (r *reservationFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&r.title, "title", "", "reservation title")
	fs.StringVar(&r.room, "room", "", "room ID")
	fs.Var(&r.start, "start", "first occurrence start (RFC 3339)")
	fs.Var(&r.end, "end", "first occurrence end (RFC 3339)")
	fs.StringVar(&r.rrule, "rrule", "", "RFC 5545 recurrence rule, e.g. FREQ=WEEKLY;INTERVAL=2")
	fs.StringVar(&r.frequency, "freq", "", "daily, weekly, monthly or yearly")
	fs.IntVar(&r.interval, "interval", 0, "steps between occurrences")
	fs.IntVar(&r.count, "count", 0, "total number of occurrences")
	fs.Var(&r.until, "until", "last allowed occurrence start (RFC 3339)")
	fs.Var(&r.endRecurring, "end-recurring", "end of the recurring period (RFC 3339)")
}

func (r *reservationFlags) input() application.ReservationInput {
	input := application.ReservationInput{
		Title:              r.title,
		Start:              r.start.get(),
		End:                r.end.get(),
		EndRecurringPeriod: r.endRecurring.value,
	}
	if r.room != "" {
		room := r.room
		input.RoomID = &room
	}
	if r.rrule != "" || r.frequency != "" {
		input.Rule = &application.RuleInput{
			RRule:     r.rrule,
			Frequency: r.frequency,
			Interval:  r.interval,
			Count:     r.count,
			Until:     r.until.value,
		}
	}
	return input
}

func runReservationCreate(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet(env, "reservation create")
	var flags reservationFlags
	flags.register(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	res, warnings, err := env.reservations.CreateReservation(ctx, flags.input())
	if err != nil {
		return err
	}
	fmt.Fprintln(env.stdout, res.ID)
	printWarnings(env.stdout, warnings)
	return nil
}

func runReservationUpdate(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet(env, "reservation update")
	id := fs.String("id", "", "reservation ID")
	var flags reservationFlags
	flags.register(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag(fs, "id", *id != ""); err != nil {
		return err
	}

	res, warnings, err := env.reservations.UpdateReservation(ctx, *id, flags.input())
	if err != nil {
		return err
	}
	fmt.Fprintln(env.stdout, res.ID)
	printWarnings(env.stdout, warnings)
	return nil
}

func runReservationShow(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet(env, "reservation show")
	id := fs.String("id", "", "reservation ID")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag(fs, "id", *id != ""); err != nil {
		return err
	}

	res, err := env.reservations.GetReservation(ctx, *id)
	if err != nil {
		return err
	}
	conflicts, err := env.reservations.ReservationConflicts(ctx, *id)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(env.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "id:\t%s\n", res.ID)
	fmt.Fprintf(tw, "title:\t%s\n", res.Title)
	fmt.Fprintf(tw, "start:\t%s\n", formatTime(res.Start))
	fmt.Fprintf(tw, "end:\t%s\n", formatTime(res.End))
	fmt.Fprintf(tw, "room:\t%s\n", valueOr(res.RoomID, "-"))
	fmt.Fprintf(tw, "rule:\t%s\n", describeRule(res))
	if res.EndRecurringPeriod != nil {
		fmt.Fprintf(tw, "end recurring:\t%s\n", formatTime(*res.EndRecurringPeriod))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	printWarnings(env.stdout, conflicts)
	return nil
}

func runReservationDelete(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet(env, "reservation delete")
	id := fs.String("id", "", "reservation ID")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag(fs, "id", *id != ""); err != nil {
		return err
	}
	return env.reservations.DeleteReservation(ctx, *id)
}

// windowFlags selects a reservation and a half-open time window.
type windowFlags struct {
	id   string
	from timeFlag
	to   timeFlag
}

func (w *windowFlags) register(fs *flag.FlagSet, idName, idUsage string) {
	fs.StringVar(&w.id, idName, "", idUsage)
	fs.Var(&w.from, "from", "window start, inclusive (RFC 3339)")
	fs.Var(&w.to, "to", "window end, exclusive (RFC 3339)")
}

func (w *windowFlags) parse(fs *flag.FlagSet, idName string, args []string) error {
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag(fs, idName, w.id != ""); err != nil {
		return err
	}
	if err := requireFlag(fs, "from", w.from.value != nil); err != nil {
		return err
	}
	return requireFlag(fs, "to", w.to.value != nil)
}

func runOccurrences(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet(env, "occurrences")
	var w windowFlags
	w.register(fs, "id", "reservation ID")
	if err := w.parse(fs, "id", args); err != nil {
		return err
	}

	instances, err := env.reservations.ListOccurrences(ctx, w.id, w.from.get(), w.to.get())
	if err != nil {
		return err
	}
	return printInstances(env.stdout, instances)
}

func runCancelled(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet(env, "cancelled")
	var w windowFlags
	w.register(fs, "id", "reservation ID")
	if err := w.parse(fs, "id", args); err != nil {
		return err
	}

	instances, err := env.reservations.ListCancelledOccurrences(ctx, w.id, w.from.get(), w.to.get())
	if err != nil {
		return err
	}
	return printInstances(env.stdout, instances)
}

func runUpcoming(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet(env, "upcoming")
	id := fs.String("id", "", "reservation ID")
	var after timeFlag
	fs.Var(&after, "after", "earliest start (RFC 3339), defaults to now")
	limit := fs.Int("limit", 5, "maximum number of occurrences")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag(fs, "id", *id != ""); err != nil {
		return err
	}

	from := time.Now()
	if after.value != nil {
		from = *after.value
	}
	instances, err := env.reservations.UpcomingOccurrences(ctx, *id, from, *limit)
	if err != nil {
		return err
	}
	return printInstances(env.stdout, instances)
}

// occurrenceFlags address one occurrence by its original start.
type occurrenceFlags struct {
	id       string
	original timeFlag
}

func (o *occurrenceFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&o.id, "id", "", "reservation ID")
	fs.Var(&o.original, "original", "original start of the occurrence (RFC 3339)")
}

func (o *occurrenceFlags) validate(fs *flag.FlagSet) error {
	if err := requireFlag(fs, "id", o.id != ""); err != nil {
		return err
	}
	return requireFlag(fs, "original", o.original.value != nil)
}

func runMove(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet(env, "move")
	var o occurrenceFlags
	o.register(fs)
	var start, end timeFlag
	fs.Var(&start, "start", "new start (RFC 3339)")
	fs.Var(&end, "end", "new end (RFC 3339)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := o.validate(fs); err != nil {
		return err
	}
	if err := requireFlag(fs, "start", start.value != nil); err != nil {
		return err
	}
	if err := requireFlag(fs, "end", end.value != nil); err != nil {
		return err
	}

	inst, err := env.reservations.MoveOccurrence(ctx, o.id, o.original.get(), start.get(), end.get())
	if err != nil {
		return err
	}
	return printInstances(env.stdout, []occurrence.Instance{inst})
}

func runCancel(ctx context.Context, env *environment, args []string) error {
	return runOccurrenceMutation(ctx, env, "cancel", args, env.reservations.CancelOccurrence)
}

func runUncancel(ctx context.Context, env *environment, args []string) error {
	return runOccurrenceMutation(ctx, env, "uncancel", args, env.reservations.UncancelOccurrence)
}

func runOccurrenceMutation(
	ctx context.Context,
	env *environment,
	name string,
	args []string,
	mutate func(ctx context.Context, reservationID string, originalStart time.Time) (occurrence.Instance, error),
) error {
	fs := newFlagSet(env, name)
	var o occurrenceFlags
	o.register(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := o.validate(fs); err != nil {
		return err
	}

	inst, err := mutate(ctx, o.id, o.original.get())
	if err != nil {
		return err
	}
	return printInstances(env.stdout, []occurrence.Instance{inst})
}

func runBusy(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet(env, "busy")
	var w windowFlags
	w.register(fs, "room", "room ID")
	list := fs.Bool("list", false, "also list the occurrences in the window")
	if err := w.parse(fs, "room", args); err != nil {
		return err
	}

	busy, err := env.reservations.RoomBusy(ctx, w.id, w.from.get(), w.to.get())
	if err != nil {
		return err
	}
	if busy {
		fmt.Fprintln(env.stdout, "busy")
	} else {
		fmt.Fprintln(env.stdout, "free")
	}
	if !*list || !busy {
		return nil
	}

	instances, err := env.reservations.RoomOccurrences(ctx, w.id, w.from.get(), w.to.get())
	if err != nil {
		return err
	}
	return printInstances(env.stdout, instances)
}

func printInstances(w io.Writer, instances []occurrence.Instance) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RESERVATION\tORIGINAL START\tSTART\tEND\tSTATUS")
	for _, inst := range instances {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			inst.ReservationID,
			formatTime(inst.OriginalStart),
			formatTime(inst.Start),
			formatTime(inst.End),
			instanceStatus(inst),
		)
	}
	return tw.Flush()
}

func instanceStatus(inst occurrence.Instance) string {
	switch {
	case inst.Cancelled && inst.Moved:
		return "cancelled,moved"
	case inst.Cancelled:
		return "cancelled"
	case inst.Moved:
		return "moved"
	case inst.Persisted():
		return "saved"
	default:
		return "scheduled"
	}
}

func printWarnings(w io.Writer, warnings []application.ConflictWarning) {
	for _, warning := range warnings {
		fmt.Fprintf(w, "warning: room %s overlaps reservation %s: %s..%s against %s..%s\n",
			warning.RoomID,
			warning.ReservationID,
			formatTime(warning.Start),
			formatTime(warning.End),
			formatTime(warning.OtherStart),
			formatTime(warning.OtherEnd),
		)
	}
}

func describeRule(res application.Reservation) string {
	if res.Rule == nil {
		return "none"
	}
	desc := fmt.Sprintf("%s every %d", res.Rule.Frequency, res.Rule.Interval)
	if res.Rule.Count > 0 {
		desc += fmt.Sprintf(", %d times", res.Rule.Count)
	}
	if res.Rule.Until != nil {
		desc += ", until " + formatTime(*res.Rule.Until)
	}
	return desc
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func valueOr(value *string, fallback string) string {
	if value == nil || *value == "" {
		return fallback
	}
	return *value
}
