package pg

import (
	"context"
	"database/sql"
	"time"

	"etiasassist.app/internal/auth"
)

const userColumns = `id, email, name, role, is_immutable, login_method, password_hash, created_at, updated_at, last_signed_in`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (auth.User, error) {
	var (
		u    auth.User
		role string
		last sql.Null[time.Time]
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &role, &u.Immutable, &u.LoginMethod, &u.PasswordHash,
		&u.CreatedAt, &u.UpdatedAt, &last); err != nil {
		return auth.User{}, err
	}
	u.Role = auth.Role(role)
	u.LastSignedIn = ptrOf(last)
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, u auth.User) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into users (id, email, name, role, is_immutable, login_method, password_hash, created_at, updated_at, last_signed_in)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, u.ID, u.Email, u.Name, string(u.Role), u.Immutable, u.LoginMethod, u.PasswordHash,
		u.CreatedAt, u.UpdatedAt, nullOf(u.LastSignedIn))
	return mapErr(err, "user")
}

func (s *Store) GetUser(ctx context.Context, id string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
	if err != nil {
		return auth.User{}, mapErr(err, "user")
	}
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where lower(email) = lower($1)`, email))
	if err != nil {
		return auth.User{}, mapErr(err, "user")
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context, limit int) ([]auth.User, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+userColumns+`
		from users
		order by created_at desc, id desc
		limit $1
	`, limitArg(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) SaveUser(ctx context.Context, u auth.User) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update users
		set email = $2, name = $3, role = $4, is_immutable = $5, password_hash = $6,
			updated_at = $7, last_signed_in = $8
		where id = $1
	`, u.ID, u.Email, u.Name, string(u.Role), u.Immutable, u.PasswordHash, u.UpdatedAt, nullOf(u.LastSignedIn))
	if err != nil {
		return mapErr(err, "user")
	}
	return requireRow(res, "user")
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "user")
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return mapErr(sql.ErrNoRows, what)
	}
	return nil
}
