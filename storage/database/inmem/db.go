package inmemdb

import (
	"sync"

	"github.com/sunschool/sunschool/core/dbsync"
	"github.com/sunschool/sunschool/core/learner"
	"github.com/sunschool/sunschool/core/user"
)

type (
	// DB keeps every table in memory. It is meant for tests and local runs.
	DB struct {
		user    *userTable
		learner *learnerTables
		sync    *syncConfigTable
	}

	userTable struct {
		mutex sync.RWMutex
		pkSeq int
		table map[int]*user.User
	}

	learnerTables struct {
		mutex        sync.RWMutex
		profiles     map[string]*learner.Profile
		lessons      map[string]*learner.Lesson
		achievements map[string]*learner.Achievement
	}

	syncConfigTable struct {
		mutex sync.RWMutex
		table map[string]*dbsync.Config
	}
)

func Open() *DB {
	return &DB{
		user: &userTable{table: make(map[int]*user.User)},
		learner: &learnerTables{
			profiles:     make(map[string]*learner.Profile),
			lessons:      make(map[string]*learner.Lesson),
			achievements: make(map[string]*learner.Achievement),
		},
		sync: &syncConfigTable{table: make(map[string]*dbsync.Config)},
	}
}

// Reset empties every table.
func (db *DB) Reset() {
	db.user.mutex.Lock()
	db.user.table = make(map[int]*user.User)
	db.user.mutex.Unlock()

	db.learner.mutex.Lock()
	db.learner.profiles = make(map[string]*learner.Profile)
	db.learner.lessons = make(map[string]*learner.Lesson)
	db.learner.achievements = make(map[string]*learner.Achievement)
	db.learner.mutex.Unlock()

	db.sync.mutex.Lock()
	db.sync.table = make(map[string]*dbsync.Config)
	db.sync.mutex.Unlock()
}
