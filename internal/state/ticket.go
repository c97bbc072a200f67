package state

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

const ticketColumns = `id, workflow_id, title, description, type, priority, status,
	parent_ticket_id, blocked_by_ticket_ids, tags, embedding, resolved,
	created_at, updated_at`

// CreateTicket inserts a new ticket and indexes it for keyword search.
func (db *DB) CreateTicket(t *models.Ticket) error {
	return db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO tickets (`+ticketColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ID, t.WorkflowID, t.Title, t.Description, t.Type, string(t.Priority),
			t.Status, nullString(t.ParentTicketID), encodeStrings(t.BlockedByTicketIDs),
			encodeStrings(t.Tags), encodeVector(t.Embedding), t.Resolved,
			formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
		if err != nil {
			return fmt.Errorf("create ticket %s: %w", t.ID, err)
		}
		_, err = tx.Exec(`INSERT INTO tickets_fts (ticket_id, title, description, tags)
			VALUES (?, ?, ?, ?)`,
			t.ID, t.Title, t.Description, strings.Join(t.Tags, " "))
		if err != nil {
			return fmt.Errorf("index ticket %s: %w", t.ID, err)
		}
		return nil
	})
}

// GetTicket retrieves a ticket by ID. Returns nil if not found.
func (db *DB) GetTicket(id string) (*models.Ticket, error) {
	row := db.QueryRow(`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id)
	t, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket %s: %w", id, err)
	}
	return t, nil
}

// UpdateTicket persists the mutable fields of a ticket and refreshes the
// keyword index.
func (db *DB) UpdateTicket(t *models.Ticket) error {
	return db.Transaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE tickets SET title = ?, description = ?, type = ?, priority = ?,
				status = ?, parent_ticket_id = ?, blocked_by_ticket_ids = ?, tags = ?,
				embedding = ?, resolved = ?, updated_at = ?
			WHERE id = ?
		`, t.Title, t.Description, t.Type, string(t.Priority), t.Status,
			nullString(t.ParentTicketID), encodeStrings(t.BlockedByTicketIDs),
			encodeStrings(t.Tags), encodeVector(t.Embedding), t.Resolved,
			formatTime(t.UpdatedAt), t.ID)
		if err != nil {
			return fmt.Errorf("update ticket %s: %w", t.ID, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("update ticket %s: not found", t.ID)
		}
		if _, err := tx.Exec(`DELETE FROM tickets_fts WHERE ticket_id = ?`, t.ID); err != nil {
			return fmt.Errorf("reindex ticket %s: %w", t.ID, err)
		}
		_, err = tx.Exec(`INSERT INTO tickets_fts (ticket_id, title, description, tags)
			VALUES (?, ?, ?, ?)`,
			t.ID, t.Title, t.Description, strings.Join(t.Tags, " "))
		if err != nil {
			return fmt.Errorf("reindex ticket %s: %w", t.ID, err)
		}
		return nil
	})
}

// ListTicketsByWorkflow returns a workflow's tickets.
func (db *DB) ListTicketsByWorkflow(workflowID string) ([]*models.Ticket, error) {
	rows, err := db.Query(`SELECT `+ticketColumns+` FROM tickets
		WHERE workflow_id = ? ORDER BY created_at`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list tickets by workflow: %w", err)
	}
	defer rows.Close()
	return scanTickets(rows)
}

// ListTicketsBlockedBy returns tickets whose blocker list contains the given
// ticket. Candidates are narrowed with a LIKE scan over the JSON column and
// confirmed against the decoded list.
func (db *DB) ListTicketsBlockedBy(ticketID string) ([]*models.Ticket, error) {
	rows, err := db.Query(`SELECT `+ticketColumns+` FROM tickets
		WHERE blocked_by_ticket_ids LIKE ?`, "%"+ticketID+"%")
	if err != nil {
		return nil, fmt.Errorf("list tickets blocked by %s: %w", ticketID, err)
	}
	defer rows.Close()

	candidates, err := scanTickets(rows)
	if err != nil {
		return nil, err
	}
	var blocked []*models.Ticket
	for _, t := range candidates {
		for _, id := range t.BlockedByTicketIDs {
			if id == ticketID {
				blocked = append(blocked, t)
				break
			}
		}
	}
	return blocked, nil
}

// SearchTickets runs a keyword search over ticket titles, descriptions, and
// tags, returning matching tickets in relevance order.
func (db *DB) SearchTickets(workflowID, query string, limit int) ([]*models.Ticket, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	rows, err := db.Query(`
		SELECT `+prefixedTicketColumns("t")+`
		FROM tickets_fts f
		JOIN tickets t ON t.id = f.ticket_id
		WHERE tickets_fts MATCH ? AND t.workflow_id = ?
		ORDER BY rank LIMIT ?`, ftsQuote(query), workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("search tickets: %w", err)
	}
	defer rows.Close()
	return scanTickets(rows)
}

// ftsQuote wraps each term in double quotes so punctuation in user queries
// does not break the FTS5 query grammar.
func ftsQuote(query string) string {
	terms := strings.Fields(query)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, ``) + `"`
	}
	return strings.Join(terms, " ")
}

// prefixedTicketColumns qualifies the ticket column list with a table alias.
func prefixedTicketColumns(alias string) string {
	cols := strings.Split(ticketColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// scanTicket reads one ticket from a row scanner.
func scanTicket(row interface{ Scan(...any) error }) (*models.Ticket, error) {
	var t models.Ticket
	var description, parent, blockedBy, tags, embedding sql.NullString
	var priority, createdAt, updatedAt string

	err := row.Scan(&t.ID, &t.WorkflowID, &t.Title, &description, &t.Type, &priority,
		&t.Status, &parent, &blockedBy, &tags, &embedding, &t.Resolved,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	t.Description = description.String
	t.Priority = models.TicketPriority(priority)
	t.ParentTicketID = parent.String
	t.BlockedByTicketIDs = decodeStrings(blockedBy)
	t.Tags = decodeStrings(tags)
	t.Embedding = decodeVector(embedding)
	t.CreatedAt, _ = parseTime(createdAt)
	t.UpdatedAt, _ = parseTime(updatedAt)
	return &t, nil
}

// scanTickets reads all tickets from a result set.
func scanTickets(rows *sql.Rows) ([]*models.Ticket, error) {
	var tickets []*models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// Board config operations

// SaveBoardConfig inserts or replaces a workflow's board configuration.
func (db *DB) SaveBoardConfig(b *models.BoardConfig) error {
	_, err := db.Exec(`
		INSERT OR REPLACE INTO board_configs (workflow_id, columns, ticket_types, initial_status, auto_link_commits)
		VALUES (?, ?, ?, ?, ?)
	`, b.WorkflowID, encodeStrings(b.Columns), encodeStrings(b.TicketTypes),
		b.InitialStatus, b.AutoLinkCommits)
	if err != nil {
		return fmt.Errorf("save board config for %s: %w", b.WorkflowID, err)
	}
	return nil
}

// GetBoardConfig retrieves a workflow's board configuration.
// Returns nil when the workflow has no board configured.
func (db *DB) GetBoardConfig(workflowID string) (*models.BoardConfig, error) {
	row := db.QueryRow(`
		SELECT workflow_id, columns, ticket_types, initial_status, auto_link_commits
		FROM board_configs WHERE workflow_id = ?`, workflowID)

	var b models.BoardConfig
	var columns, types sql.NullString
	err := row.Scan(&b.WorkflowID, &columns, &types, &b.InitialStatus, &b.AutoLinkCommits)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get board config for %s: %w", workflowID, err)
	}
	b.Columns = decodeStrings(columns)
	b.TicketTypes = decodeStrings(types)
	return &b, nil
}

// Comment, history, and commit-link operations

// CreateTicketComment appends a comment to a ticket.
func (db *DB) CreateTicketComment(c *models.TicketComment) error {
	_, err := db.Exec(`
		INSERT INTO ticket_comments (id, ticket_id, author, body, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.ID, c.TicketID, c.Author, c.Body, formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("create ticket comment: %w", err)
	}
	return nil
}

// ListTicketComments returns a ticket's comments in order.
func (db *DB) ListTicketComments(ticketID string) ([]*models.TicketComment, error) {
	rows, err := db.Query(`
		SELECT id, ticket_id, author, body, created_at
		FROM ticket_comments WHERE ticket_id = ? ORDER BY created_at`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list ticket comments: %w", err)
	}
	defer rows.Close()

	var comments []*models.TicketComment
	for rows.Next() {
		var c models.TicketComment
		var createdAt string
		if err := rows.Scan(&c.ID, &c.TicketID, &c.Author, &c.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("scan ticket comment: %w", err)
		}
		c.CreatedAt, _ = parseTime(createdAt)
		comments = append(comments, &c)
	}
	return comments, rows.Err()
}

// AddTicketHistory appends an audit entry to a ticket's history.
func (db *DB) AddTicketHistory(h *models.TicketHistoryEntry) error {
	_, err := db.Exec(`
		INSERT INTO ticket_history (id, ticket_id, kind, from_status, to_status, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, h.ID, h.TicketID, h.Kind, nullString(h.FromStatus), nullString(h.ToStatus),
		nullString(h.Detail), formatTime(h.CreatedAt))
	if err != nil {
		return fmt.Errorf("add ticket history: %w", err)
	}
	return nil
}

// ListTicketHistory returns a ticket's audit entries in order.
func (db *DB) ListTicketHistory(ticketID string) ([]*models.TicketHistoryEntry, error) {
	rows, err := db.Query(`
		SELECT id, ticket_id, kind, from_status, to_status, detail, created_at
		FROM ticket_history WHERE ticket_id = ? ORDER BY created_at, id`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list ticket history: %w", err)
	}
	defer rows.Close()

	var entries []*models.TicketHistoryEntry
	for rows.Next() {
		var h models.TicketHistoryEntry
		var fromStatus, toStatus, detail sql.NullString
		var createdAt string
		if err := rows.Scan(&h.ID, &h.TicketID, &h.Kind, &fromStatus, &toStatus, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan ticket history: %w", err)
		}
		h.FromStatus = fromStatus.String
		h.ToStatus = toStatus.String
		h.Detail = detail.String
		h.CreatedAt, _ = parseTime(createdAt)
		entries = append(entries, &h)
	}
	return entries, rows.Err()
}

// CreateTicketCommit links a commit to a ticket.
func (db *DB) CreateTicketCommit(c *models.TicketCommit) error {
	_, err := db.Exec(`
		INSERT INTO ticket_commits (id, ticket_id, commit_sha, task_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.ID, c.TicketID, c.CommitSHA, nullString(c.TaskID), formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("create ticket commit: %w", err)
	}
	return nil
}

// ListTicketCommits returns a ticket's linked commits in order.
func (db *DB) ListTicketCommits(ticketID string) ([]*models.TicketCommit, error) {
	rows, err := db.Query(`
		SELECT id, ticket_id, commit_sha, task_id, created_at
		FROM ticket_commits WHERE ticket_id = ? ORDER BY created_at`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list ticket commits: %w", err)
	}
	defer rows.Close()

	var commits []*models.TicketCommit
	for rows.Next() {
		var c models.TicketCommit
		var taskID sql.NullString
		var createdAt string
		if err := rows.Scan(&c.ID, &c.TicketID, &c.CommitSHA, &taskID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan ticket commit: %w", err)
		}
		c.TaskID = taskID.String
		c.CreatedAt, _ = parseTime(createdAt)
		commits = append(commits, &c)
	}
	return commits, rows.Err()
}
