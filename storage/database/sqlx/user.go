package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/sunschool/sunschool/core/user"
)

const userColumns = "id, email, username, name, role, password, parent_id, created_at"

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(db *sql.DB) user.Repository {
	return &userRepository{db: sqlx.NewDb(db, driverName)}
}

func (repo *userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	exclIDs := make([]int, 0, len(excludedUsers))
	for _, usr := range excludedUsers {
		exclIDs = append(exclIDs, usr.ID)
	}

	var found []struct {
		Username string `db:"username"`
		Email    string `db:"email"`
	}
	q := "SELECT username, email FROM users WHERE (username = ? OR email = ?)"
	args := []interface{}{username, email}
	if len(exclIDs) > 0 {
		var err error
		q, args, err = sqlx.In(q+" AND id NOT IN (?)", username, email, exclIDs)
		if err != nil {
			return errors.Wrap(err, "building uniqueness query")
		}
	}
	if err := repo.db.SelectContext(ctx, &found, repo.db.Rebind(q), args...); err != nil {
		return errors.Wrap(err, "checking username uniqueness")
	}
	for _, f := range found {
		if f.Username == username {
			return user.ErrUsernameExists
		}
	}
	if len(found) > 0 {
		return user.ErrEmailExists
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	var created user.User
	q := `INSERT INTO users (email, username, name, role, password, parent_id, created_at)
VALUES (:email, :username, :name, :role, :password, :parent_id, :created_at)
RETURNING ` + userColumns
	if usr.ID != 0 {
		q = `INSERT INTO users (id, email, username, name, role, password, parent_id, created_at)
VALUES (:id, :email, :username, :name, :role, :password, :parent_id, :created_at)
RETURNING ` + userColumns
	}
	rows, err := repo.db.NamedQueryContext(ctx, q, usr)
	if err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	if err = scanOne(rows, &created, errNoRowReturned); err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return created, nil
}

func (repo *userRepository) GetUserByID(ctx context.Context, id int) (user.User, error) {
	var usr user.User
	err := repo.db.GetContext(ctx, &usr, "SELECT "+userColumns+" FROM users WHERE id = $1", id)
	return usr, trapNoRowsErr(err, user.ErrNotFound)
}

func (repo *userRepository) GetUserByUsername(ctx context.Context, username string) (user.User, error) {
	var usr user.User
	err := repo.db.GetContext(ctx, &usr, "SELECT "+userColumns+" FROM users WHERE username = $1", username)
	return usr, trapNoRowsErr(err, user.ErrNotFound)
}

func (repo *userRepository) QueryUsersByParentID(ctx context.Context, parentID int) ([]user.User, error) {
	users := make([]user.User, 0)
	err := repo.db.SelectContext(ctx, &users, "SELECT "+userColumns+" FROM users WHERE parent_id = $1 ORDER BY id", parentID)
	return users, errors.Wrap(err, "querying users by parent")
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	var updated user.User
	rows, err := repo.db.NamedQueryContext(ctx, `UPDATE users
SET email = :email, username = :username, name = :name, role = :role, password = :password, parent_id = :parent_id
WHERE id = :id
RETURNING `+userColumns, usr)
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if err = scanOne(rows, &updated, user.ErrNotFound); err != nil {
		return user.User{}, trapNotFound(err, user.ErrNotFound, "updating user")
	}
	return updated, nil
}
